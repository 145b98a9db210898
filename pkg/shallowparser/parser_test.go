package shallowparser

import (
	"testing"

	"github.com/stretchr/testify/require"
)

const sampleSource = `// Computes the total price including tax.
@server
Function ComputeTotal(ByVal Price, TaxRate = 0.2) Export
	Result = Price * (1 + TaxRate);
	Return Result;
EndFunction

@client
Procedure ShowTotal(Price) Export
	Total = ComputeTotal(Price, 0.1);
	Message(Total);
EndProcedure

Var CallCount Export;

Procedure Internal(X)
	ShowTotal(X);
EndProcedure
`

func TestParseMethods(t *testing.T) {
	result := New().Parse(sampleSource)
	require.Len(t, result.Methods, 3)

	compute := result.Methods[0]
	require.Equal(t, "ComputeTotal", compute.Name)
	require.False(t, compute.IsProc)
	require.True(t, compute.IsExport)
	require.Equal(t, "server", compute.Context)
	require.Equal(t, "Computes the total price including tax.", compute.Description)
	require.Len(t, compute.Params, 2)
	require.Equal(t, "Price", compute.Params[0].Name)
	require.True(t, compute.Params[0].ByVal)
	require.Equal(t, "TaxRate", compute.Params[1].Name)
	require.Equal(t, "0.2", compute.Params[1].Default)

	show := result.Methods[1]
	require.Equal(t, "ShowTotal", show.Name)
	require.True(t, show.IsProc)
	require.Equal(t, "client", show.Context)

	internal := result.Methods[2]
	require.Equal(t, "Internal", internal.Name)
	require.False(t, internal.IsExport)
	require.Equal(t, "", internal.Context)
}

func TestParseModuleVars(t *testing.T) {
	result := New().Parse(sampleSource)
	v, ok := result.ModuleVars["CallCount"]
	require.True(t, ok)
	require.True(t, v.IsExport)
}

func TestParseCallsExcludesSelfRecursion(t *testing.T) {
	result := New().Parse(sampleSource)

	var show, internal *Method
	for i := range result.Methods {
		switch result.Methods[i].Name {
		case "ShowTotal":
			show = &result.Methods[i]
		case "Internal":
			internal = &result.Methods[i]
		}
	}
	require.NotNil(t, show)
	require.NotNil(t, internal)

	var calledNames []string
	for _, c := range show.CallPositions {
		calledNames = append(calledNames, c.Call)
	}
	require.Contains(t, calledNames, "ComputeTotal")
	require.Contains(t, calledNames, "Message")

	for _, c := range internal.CallPositions {
		require.NotEqual(t, "Internal", c.Call)
	}
}

func TestKeywordsAreNotCalls(t *testing.T) {
	src := `Procedure Loop(Items)
	For Each Item In Items Do
		If Item = Undefined Then
			Continue;
		EndIf;
		Process(Item);
	EndDo;
EndProcedure
`
	result := New().Parse(src)
	require.Len(t, result.Methods, 1)
	var calls []string
	for _, c := range result.Methods[0].CallPositions {
		calls = append(calls, c.Call)
	}
	require.Equal(t, []string{"Process"}, calls)
}

func TestNestedDeclarationsTrackDepth(t *testing.T) {
	src := `Procedure Outer()
	Procedure Inner()
	EndProcedure
EndProcedure
`
	result := New().Parse(src)
	require.Len(t, result.Methods, 2)

	var outer, inner *Method
	for i := range result.Methods {
		m := &result.Methods[i]
		switch m.Name {
		case "Outer":
			outer = m
		case "Inner":
			inner = m
		}
	}
	require.NotNil(t, outer)
	require.NotNil(t, inner)
	require.Equal(t, 2, inner.EndLine, "Inner's EndProcedure is its own, not Outer's")
	require.Equal(t, 3, outer.EndLine, "Outer's EndProcedure must resolve past the nested Inner block")
}
