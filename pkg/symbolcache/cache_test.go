package symbolcache

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/projectforge/devsupervisor/pkg/shallowparser"
)

func boolPtr(b bool) *bool { return &b }

func TestFindMethodsByNameAndExport(t *testing.T) {
	c := New()
	c.AddMethod(shallowparser.Method{Name: "DoWork", IsExport: true}, "a.pss", "ModA")
	c.AddMethod(shallowparser.Method{Name: "helper", IsExport: false}, "a.pss", "ModA")
	c.AddMethod(shallowparser.Method{Name: "doWork", IsExport: true}, "b.pss", "ModB")

	results := c.FindMethods(Query{Name: "dowork"})
	require.Len(t, results, 2)

	exported := c.FindMethods(Query{IsExported: boolPtr(true)})
	require.Len(t, exported, 2)

	notExported := c.FindMethods(Query{IsExported: boolPtr(false)})
	require.Len(t, notExported, 1)
	require.Equal(t, "helper", notExported[0].Method.Name)
}

func TestFindMethodsByModuleRegexp(t *testing.T) {
	c := New()
	c.AddMethod(shallowparser.Method{Name: "A"}, "a.pss", "Billing.Invoices")
	c.AddMethod(shallowparser.Method{Name: "B"}, "b.pss", "Billing.Receipts")
	c.AddMethod(shallowparser.Method{Name: "C"}, "c.pss", "Shipping")

	results := c.FindMethods(Query{ModuleRegexp: "^billing"})
	require.Len(t, results, 2)
}

func TestRemoveFileDataRebuildsIndices(t *testing.T) {
	c := New()
	c.AddMethod(shallowparser.Method{Name: "A", IsExport: true}, "a.pss", "Mod")
	c.AddMethod(shallowparser.Method{Name: "B", IsExport: true}, "b.pss", "Mod")
	c.AddCall(shallowparser.CallPosition{Call: "A", Line: 1}, "b.pss", "B", "Mod")

	c.RemoveFileData("a.pss")

	results := c.FindMethods(Query{Name: "A"})
	require.Empty(t, results)

	remaining := c.FindMethods(Query{})
	require.Len(t, remaining, 1)
	require.Equal(t, "B", remaining[0].Method.Name)

	require.Empty(t, c.FindCalls("A"))

	stats := c.Stats()
	require.Equal(t, 1, stats.Methods)
	require.Equal(t, 1, stats.ExportedMethods)
}

func TestStatsCountsCallsAndModuleVars(t *testing.T) {
	c := New()
	c.AddModuleVar(shallowparser.ModuleVar{Name: "X", IsExport: true}, "a.pss")
	c.AddCall(shallowparser.CallPosition{Call: "Foo"}, "a.pss", "", "")
	c.AddCall(shallowparser.CallPosition{Call: "Foo"}, "a.pss", "", "")
	c.AddCall(shallowparser.CallPosition{Call: "Bar"}, "a.pss", "", "")

	stats := c.Stats()
	require.Equal(t, 1, stats.ModuleVars)
	require.Equal(t, 3, stats.Calls)
	require.Equal(t, 2, stats.UniqueCalls)
}
