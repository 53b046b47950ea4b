package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecuteAllCorrect(t *testing.T) {
	drv := newFakeDriver("fake", KindPath).correct("Path:/etc/a", "Path:/etc/b")
	doc := document(bundle("base", entry("Path:/etc/a"), entry("Path:/etc/b")))

	report, err := newTestEngine(t, doc, Options{}, drv).Execute(context.Background())
	require.NoError(t, err)

	assert.Equal(t, RunStateClean, report.State)
	assert.Equal(t, 2, report.Total)
	assert.Equal(t, 2, report.GoodCount)
	assert.Empty(t, drv.installs)
	assert.Equal(t, []string{"base"}, drv.notUpdated)
	assert.Empty(t, drv.updated)
}

func TestExecuteInstallsIncorrectEntries(t *testing.T) {
	drv := newFakeDriver("fake", KindPath).correct("Path:/etc/a")
	doc := document(bundle("base", entry("Path:/etc/a"), entry("Path:/etc/b")))

	report, err := newTestEngine(t, doc, Options{}, drv).Execute(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"Path:/etc/b"}, drv.installs)
	assert.Equal(t, RunStateClean, report.State)
	assert.Equal(t, 1, report.ModifiedCount)
	assert.Equal(t, []string{"base"}, drv.updated)
	assert.Equal(t, "-1", report.Revision)
	assert.Equal(t, ReportVersion, report.Version)
}

func TestDecideWhitelistMode(t *testing.T) {
	drv := newFakeDriver("fake", KindPath)
	a, b := entry("Path:/etc/a"), entry("Path:/etc/b")
	doc := document(bundle("base", a, b))

	list, err := ParseDecisionList([]string{"Path:/etc/a"})
	require.NoError(t, err)
	e := newTestEngine(t, doc, Options{DecisionMode: DecisionWhitelist, DecisionList: list}, drv)

	ctx := context.Background()
	require.NoError(t, e.Inventory(ctx))
	require.NoError(t, e.InstallImportant(ctx))
	require.NoError(t, e.Decide(ctx))

	assert.Equal(t, []*Entry{a}, e.Whitelist())
	assert.Equal(t, []*Entry{b}, e.Blacklist())

	require.NoError(t, e.Install(ctx))
	assert.Equal(t, []string{"Path:/etc/a"}, drv.installs)
}

func TestDecideBlacklistMode(t *testing.T) {
	drv := newFakeDriver("fake", KindPath)
	a, b := entry("Path:/etc/a"), entry("Path:/etc/b")
	doc := document(bundle("base", a, b))

	list, err := ParseDecisionList([]string{"Path:/etc/*"})
	require.NoError(t, err)
	e := newTestEngine(t, doc, Options{DecisionMode: DecisionBlacklist, DecisionList: list}, drv)

	report, err := e.Execute(context.Background())
	require.NoError(t, err)

	assert.Empty(t, e.Whitelist())
	assert.ElementsMatch(t, []*Entry{a, b}, e.Blacklist())
	assert.Empty(t, drv.installs)
	assert.Equal(t, RunStateDirty, report.State)
}

func TestDecisionListIgnoredFromFile(t *testing.T) {
	drv := newFakeDriver("fake", KindPath)
	doc := document(bundle("base", entry("Path:/etc/a")))

	list, err := ParseDecisionList([]string{"Path:/etc/a"})
	require.NoError(t, err)
	opts := Options{FromFile: true, DecisionMode: DecisionBlacklist, DecisionList: list}

	_, err = newTestEngine(t, doc, opts, drv).Execute(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"Path:/etc/a"}, drv.installs)
}

func TestDryRunChangesNothing(t *testing.T) {
	drv := newFakeDriver("fake", KindPath, KindAction, KindPackage).correct("Action:check")
	drv.extra = []*Entry{entry("Package:telnet")}
	doc := document(bundle("base",
		entry("Action:check", "timing=pre", "when=always"),
		entry("Path:/etc/a"),
		entry("Path:/etc/motd", "type=file", "important=true"),
	))

	e := newTestEngine(t, doc, Options{DryRun: true, RemoveMode: RemoveAll, Kevlar: true}, drv)
	report, err := e.Execute(context.Background())
	require.NoError(t, err)

	assert.Empty(t, drv.installs)
	assert.Empty(t, drv.removes)
	assert.Empty(t, e.Whitelist())
	assert.Empty(t, e.Removal())
	assert.ElementsMatch(t, []string{"Path:/etc/a", "Path:/etc/motd"}, ids(e.Blacklist()))
	assert.True(t, report.Flags.DryRun)
	assert.Len(t, drv.inventoryCalls, 1)
}

func TestFailingPrerequisiteGatesBundle(t *testing.T) {
	drv := newFakeDriver("fake", KindPath, KindAction).correct("Action:check")
	drv.failInstall["Action:check"] = true

	web := bundle("web", entry("Action:check", "timing=pre", "when=modified"), entry("Path:/etc/web.conf"))
	db := bundle("db", entry("Path:/etc/db.conf"))
	e := newTestEngine(t, document(web, db), Options{}, drv)

	report, err := e.Execute(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"Action:check", "Path:/etc/db.conf"}, drv.installs)
	assert.Equal(t, []*Bundle{db}, e.Selection())
	assert.Equal(t, []string{"Path:/etc/web.conf"}, ids(e.Blacklist()))
	assert.Equal(t, []string{"db"}, drv.updated)
	assert.NotContains(t, drv.notUpdated, "web")
	assert.ElementsMatch(t, []string{"Action:check", "Path:/etc/web.conf"}, ids(report.Bad))
}

func TestPrerequisiteNotRunForUnmodifiedBundle(t *testing.T) {
	drv := newFakeDriver("fake", KindPath, KindAction).correct("Action:check", "Path:/etc/web.conf")

	web := bundle("web", entry("Action:check", "timing=pre", "when=modified"), entry("Path:/etc/web.conf"))
	_, err := newTestEngine(t, document(web), Options{}, drv).Execute(context.Background())
	require.NoError(t, err)

	assert.Empty(t, drv.installs)
}

func TestIndependentBundleNeverGated(t *testing.T) {
	drv := newFakeDriver("fake", KindPath, KindAction).correct("Action:check")
	drv.failInstall["Action:check"] = true

	indep := bundle("indep", entry("Action:check", "timing=pre", "when=always"), entry("Path:/etc/a"))
	indep.Independent = true
	e := newTestEngine(t, document(indep), Options{}, drv)

	_, err := e.Execute(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []*Bundle{indep}, e.Selection())
	assert.Contains(t, drv.installs, "Path:/etc/a")
	assert.Empty(t, drv.updated)
	assert.Equal(t, []string{"indep"}, drv.notUpdated)
}

func TestUnhandledEntriesAreNeverWhitelisted(t *testing.T) {
	drv := newFakeDriver("fake", KindPath)
	doc := document(bundle("base", entry("Path:/etc/a"), entry("Widget:gizmo")))

	e := newTestEngine(t, doc, Options{}, drv)
	report, err := e.Execute(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"Widget:gizmo"}, ids(e.Unhandled()))
	assert.Equal(t, []string{"Widget:gizmo"}, report.Unhandled)
	assert.Equal(t, []string{"Path:/etc/a"}, drv.installs)
	assert.Equal(t, []string{"Widget:gizmo"}, ids(e.Blacklist()))
	assert.Equal(t, []string{"Widget:gizmo"}, ids(report.Bad))
}

func TestConflictingOwnership(t *testing.T) {
	first := newFakeDriver("first", KindPath)
	second := newFakeDriver("second", KindPath)
	doc := document(bundle("base", entry("Path:/etc/a")))

	report, err := newTestEngine(t, doc, Options{}, first, second).Execute(context.Background())
	require.NoError(t, err)

	assert.Empty(t, first.installs)
	assert.Empty(t, second.installs)
	require.Len(t, report.Conflicts, 1)
	assert.Equal(t, Conflict{Entry: "Path:/etc/a", Drivers: []string{"first", "second"}}, report.Conflicts[0])
}

func TestDuplicateEntriesKeepSeparateStates(t *testing.T) {
	drv := newFakeDriver("fake", KindPath)
	one, two := entry("Path:/etc/a"), entry("Path:/etc/a")
	doc := document(bundle("one", one), bundle("two", two))

	e := newTestEngine(t, doc, Options{}, drv)
	report, err := e.Execute(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"Path:/etc/a"}, report.Duplicates)
	assert.Equal(t, 2, e.States().Len())
	assert.Equal(t, 2, report.Total)
}

func TestInventoryFaultIsolation(t *testing.T) {
	broken := newFakeDriver("broken", KindService)
	broken.inventoryErr = errFake
	healthy := newFakeDriver("healthy", KindPath).correct("Path:/etc/a")
	doc := document(bundle("base", entry("Service:sshd"), entry("Path:/etc/a")))

	e := newTestEngine(t, doc, Options{}, broken, healthy)
	require.NoError(t, e.Inventory(context.Background()))

	good, bad := e.States().Counts()
	assert.Equal(t, 1, good)
	assert.Equal(t, 1, bad)

	report := e.Report()
	require.Len(t, report.DriverFailures, 1)
	failure := report.DriverFailures[0]
	assert.Equal(t, "broken", failure.Driver)
	assert.Equal(t, PhaseInventory, failure.Phase)
	assert.Equal(t, ErrCodeDriverFailed, failure.Code)
	assert.Equal(t, ErrorClassPermanent, failure.Class)
}

func TestDriverPanicIsRecovered(t *testing.T) {
	panicky := newFakeDriver("panicky", KindService)
	panicky.panicIn = "Install"
	healthy := newFakeDriver("healthy", KindPath)
	doc := document(bundle("base", entry("Service:sshd"), entry("Path:/etc/a")))

	e := newTestEngine(t, doc, Options{}, panicky, healthy)
	report, err := e.Execute(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"Path:/etc/a"}, healthy.installs)
	assert.Equal(t, []string{"Service:sshd"}, ids(report.Bad))

	require.NotEmpty(t, report.DriverFailures)
	assert.Equal(t, ErrCodeDriverPanic, report.DriverFailures[0].Code)
	assert.Equal(t, PhaseInstall, report.DriverFailures[0].Phase)
}

func TestCapabilityPanicCountsAsNotHandled(t *testing.T) {
	panicky := newFakeDriver("panicky", KindPath)
	panicky.panicIn = "HandlesEntry"
	doc := document(bundle("base", entry("Path:/etc/a")))

	e := newTestEngine(t, doc, Options{}, panicky)
	assert.Equal(t, []string{"Path:/etc/a"}, ids(e.Unhandled()))
}

func TestDriverTimeout(t *testing.T) {
	slow := newFakeDriver("slow", KindPath)
	slow.blockInstall = true
	doc := document(bundle("base", entry("Path:/etc/a")))

	e := newTestEngine(t, doc, Options{DriverTimeout: 20 * time.Millisecond}, slow)
	report, err := e.Execute(context.Background())
	require.NoError(t, err)

	require.NotEmpty(t, report.DriverFailures)
	failure := report.DriverFailures[0]
	assert.Equal(t, ErrCodeTimeout, failure.Code)
	assert.Equal(t, ErrorClassTransient, failure.Class)
	assert.Equal(t, RunStateDirty, report.State)
}

func TestDriverTimeoutAbandonsStuckCall(t *testing.T) {
	stuck := newFakeDriver("stuck", KindPath)
	stuck.stallInstall = make(chan struct{})
	t.Cleanup(func() { close(stuck.stallInstall) })
	doc := document(bundle("base", entry("Path:/etc/a")))

	e := newTestEngine(t, doc, Options{DriverTimeout: 20 * time.Millisecond}, stuck)
	start := time.Now()
	report, err := e.Execute(context.Background())
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 5*time.Second)

	require.Len(t, report.DriverFailures, 1)
	failure := report.DriverFailures[0]
	assert.Equal(t, "stuck", failure.Driver)
	assert.Equal(t, PhaseInstall, failure.Phase)
	assert.Equal(t, ErrCodeTimeout, failure.Code)
	assert.Contains(t, failure.Message, "abandoned")
	assert.Equal(t, RunStateDirty, report.State)
}

func TestClobberedEntriesGetOnePass(t *testing.T) {
	drv := newFakeDriver("fake", KindPath).correct("Path:/etc/b")
	drv.onInstall = func(d *fakeDriver, e *Entry) {
		switch e.ID() {
		case "Path:/etc/a":
			d.current["Path:/etc/b"] = false
		case "Path:/etc/b":
			d.current["Path:/etc/a"] = false
		}
	}
	doc := document(bundle("base", entry("Path:/etc/a"), entry("Path:/etc/b")))

	report, err := newTestEngine(t, doc, Options{Kevlar: true}, drv).Execute(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"Path:/etc/a", "Path:/etc/b"}, drv.installs)
	assert.Equal(t, []string{"Path:/etc/a"}, ids(report.Bad))
}

func TestClobberedEntriesSkippedInteractive(t *testing.T) {
	drv := newFakeDriver("fake", KindPath).correct("Path:/etc/b")
	drv.onInstall = func(d *fakeDriver, e *Entry) {
		if e.ID() == "Path:/etc/a" {
			d.current["Path:/etc/b"] = false
		}
	}
	doc := document(bundle("base", entry("Path:/etc/a"), entry("Path:/etc/b")))
	prompter := newScriptedPrompter("Install Path: /etc/a? (y/N): ")

	e := newTestEngineWith(t, doc, Config{Options: Options{Interactive: true}, Prompter: prompter}, drv)
	_, err := e.Execute(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"Path:/etc/a"}, drv.installs)
}

func TestBundleNotificationFixpoint(t *testing.T) {
	drv := newFakeDriver("fake", KindPath).correct("Path:/b", "Path:/c", "Path:/i")
	a := bundle("a", entry("Path:/a"))
	b := bundle("b", entry("Path:/b"))
	c := bundle("c", entry("Path:/c"))
	indep := bundle("indep", entry("Path:/i"))
	indep.Independent = true

	drv.onUpdated = func(d *fakeDriver, updated *Bundle) {
		if updated == a {
			d.modified = append(d.modified, b.Entries[0])
		}
	}

	_, err := newTestEngine(t, document(a, b, c, indep), Options{}, drv).Execute(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"a", "b"}, drv.updated)
	assert.Equal(t, []string{"c", "indep"}, drv.notUpdated)
}

func TestImportantEntriesInstalledFirst(t *testing.T) {
	drv := newFakeDriver("fake", KindPath)
	doc := document(bundle("base",
		entry("Path:/etc/a"),
		entry("Path:/etc/motd", "type=file", "important=true"),
	))

	e := newTestEngine(t, doc, Options{}, drv)
	_, err := e.Execute(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"Path:/etc/motd", "Path:/etc/a"}, drv.installs)
}

func TestOnlyImportant(t *testing.T) {
	drv := newFakeDriver("fake", KindPath)
	doc := document(bundle("base",
		entry("Path:/etc/a"),
		entry("Path:/etc/motd", "type=file", "important=true"),
		entry("Path:/etc/ssh", "type=directory", "important=true"),
	))

	report, err := newTestEngine(t, doc, Options{OnlyImportant: true}, drv).Execute(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"Path:/etc/motd"}, drv.installs)
	assert.True(t, report.Flags.OnlyImportant)
	assert.Equal(t, 2, report.Total)
	assert.Equal(t, []string{"Path:/etc/ssh"}, ids(report.Bad))
}

func TestInteractivePromptsInOrder(t *testing.T) {
	drv := newFakeDriver("fake", KindPath)
	c := entry("Path:/etc/c")
	c.Prompt = "Replace /etc/c with the new version? (y/N): "
	doc := document(bundle("base", c, entry("Path:/etc/a"), entry("Path:/etc/b")))
	prompter := newScriptedPrompter("Install Path: /etc/b? (y/N): ")

	e := newTestEngineWith(t, doc, Config{Options: Options{Interactive: true}, Prompter: prompter}, drv)
	_, err := e.Execute(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{
		"Install Path: /etc/a? (y/N): ",
		"Install Path: /etc/b? (y/N): ",
		"Replace /etc/c with the new version? (y/N): ",
	}, prompter.asked)
	assert.Equal(t, []string{"Path:/etc/b"}, drv.installs)
	assert.Equal(t, []string{"Path:/etc/a", "Path:/etc/c"}, ids(SortEntries(e.Blacklist())))
}

func TestInteractiveRequiresPrompter(t *testing.T) {
	_, err := New(document(), nil, Config{Options: Options{Interactive: true}})
	require.Error(t, err)
}

func TestEntryGate(t *testing.T) {
	drv := newFakeDriver("fake", KindPath)
	doc := document(bundle("base", entry("Path:/etc/a"), entry("Path:/etc/b")))
	gate := fakeGate{deny: map[string]bool{"Path:/etc/b": true}}

	e := newTestEngineWith(t, doc, Config{Gate: gate}, drv)
	_, err := e.Execute(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"Path:/etc/a"}, drv.installs)
	assert.Equal(t, []string{"Path:/etc/b"}, ids(e.Blacklist()))
}

func TestEntryGateErrorFailsClosed(t *testing.T) {
	drv := newFakeDriver("fake", KindPath)
	doc := document(bundle("base", entry("Path:/etc/a")))

	e := newTestEngineWith(t, doc, Config{Gate: fakeGate{err: errFake}}, drv)
	_, err := e.Execute(context.Background())
	require.NoError(t, err)

	assert.Empty(t, drv.installs)
}

func TestRemoveExtraEntries(t *testing.T) {
	tests := []struct {
		name string
		mode RemoveMode
		want []string
	}{
		{name: "all", mode: RemoveAll, want: []string{"Package:telnet", "Service:rsh"}},
		{name: "packages", mode: RemovePackages, want: []string{"Package:telnet"}},
		{name: "services", mode: RemoveServices, want: []string{"Service:rsh"}},
		{name: "none", mode: RemoveNone, want: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			drv := newFakeDriver("fake", KindPath, KindPackage, KindService).correct("Path:/etc/a")
			drv.extra = []*Entry{entry("Package:telnet"), entry("Service:rsh")}
			doc := document(bundle("base", entry("Path:/etc/a")))

			report, err := newTestEngine(t, doc, Options{RemoveMode: tt.mode}, drv).Execute(context.Background())
			require.NoError(t, err)

			assert.Equal(t, tt.want, drv.removes)
			assert.Equal(t, 2, report.ExtraCount)
		})
	}
}

func TestReInventoryOnlyInKevlarMode(t *testing.T) {
	tests := []struct {
		name   string
		opts   Options
		checks int
	}{
		{name: "kevlar", opts: Options{Kevlar: true}, checks: 2},
		{name: "default", opts: Options{}, checks: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			drv := newFakeDriver("fake", KindPath)
			doc := document(bundle("one", entry("Path:/a")), bundle("two", entry("Path:/b")))

			_, err := newTestEngine(t, doc, tt.opts, drv).Execute(context.Background())
			require.NoError(t, err)

			full := 0
			for _, n := range drv.inventoryCalls {
				if n == 2 {
					full++
				}
			}
			assert.Equal(t, tt.checks, full)
		})
	}
}

func TestBundleSelection(t *testing.T) {
	indep := bundle("indep", entry("Path:/i"))
	indep.Independent = true
	newDoc := func() *Document {
		return document(bundle("web", entry("Path:/w")), bundle("db", entry("Path:/d")), indep)
	}

	tests := []struct {
		name string
		opts Options
		want []string
	}{
		{name: "all", opts: Options{}, want: []string{"web", "db", "indep"}},
		{name: "only", opts: Options{Bundles: []string{"db", "missing"}}, want: []string{"db"}},
		{name: "indep", opts: Options{Indep: true}, want: []string{"indep"}},
		{name: "skip", opts: Options{SkipBundles: []string{"web"}}, want: []string{"db", "indep"}},
		{name: "skip indep", opts: Options{SkipIndep: true}, want: []string{"web", "db"}},
		{name: "only wins over indep", opts: Options{Bundles: []string{"web"}, Indep: true}, want: []string{"web"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newTestEngine(t, newDoc(), tt.opts, newFakeDriver("fake", KindPath))
			assert.Equal(t, tt.want, bundleNames(e.Selection()))
		})
	}
}

func TestQuickModeLimitsInventory(t *testing.T) {
	drv := newFakeDriver("fake", KindPath)
	doc := document(bundle("web", entry("Path:/w")), bundle("db", entry("Path:/d")))

	e := newTestEngine(t, doc, Options{Quick: true, Bundles: []string{"web"}}, drv)
	report, err := e.Execute(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, report.Total)
	assert.Equal(t, []string{"Path:/w"}, drv.installs)
}

func TestUnselectedBundleNotInstalled(t *testing.T) {
	drv := newFakeDriver("fake", KindPath)
	doc := document(bundle("web", entry("Path:/w")), bundle("db", entry("Path:/d")))

	e := newTestEngine(t, doc, Options{SkipBundles: []string{"db"}}, drv)
	report, err := e.Execute(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, report.Total)
	assert.Equal(t, []string{"Path:/w"}, drv.installs)
	assert.Equal(t, []string{"Path:/d"}, ids(e.Blacklist()))
}

func TestSkippedBundlesStillNotified(t *testing.T) {
	indep := bundle("indep", entry("Path:/i"))
	indep.Independent = true
	newDoc := func() *Document {
		return document(bundle("a", entry("Path:/a")), bundle("b", entry("Path:/b")), indep)
	}

	tests := []struct {
		name string
		opts Options
		want []string
	}{
		{name: "skip bundle", opts: Options{SkipBundles: []string{"b"}}, want: []string{"a", "b", "indep"}},
		{name: "skip indep", opts: Options{SkipIndep: true}, want: []string{"a", "b", "indep"}},
		{name: "only named", opts: Options{Bundles: []string{"a"}}, want: []string{"a", "indep"}},
		{name: "quick", opts: Options{Bundles: []string{"a"}, Quick: true}, want: []string{"a"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			drv := newFakeDriver("fake", KindPath).correct("Path:/a", "Path:/b", "Path:/i")
			_, err := newTestEngine(t, newDoc(), tt.opts, drv).Execute(context.Background())
			require.NoError(t, err)

			assert.Empty(t, drv.updated)
			assert.Equal(t, tt.want, drv.notUpdated)
		})
	}
}

func TestPhaseOrderMisuse(t *testing.T) {
	ctx := context.Background()
	doc := document(bundle("base", entry("Path:/etc/a")))

	e := newTestEngine(t, doc, Options{}, newFakeDriver("fake", KindPath))
	assert.True(t, errors.Is(e.Install(ctx), ErrPhaseOrder))
	assert.True(t, errors.Is(e.Remove(ctx), ErrPhaseOrder))
	assert.True(t, errors.Is(e.Decide(ctx), ErrPhaseOrder))
	assert.True(t, errors.Is(e.InstallImportant(ctx), ErrPhaseOrder))

	require.NoError(t, e.Inventory(ctx))
	require.NoError(t, e.Decide(ctx))
	assert.True(t, errors.Is(e.Remove(ctx), ErrPhaseOrder))
	require.NoError(t, e.Install(ctx))
	require.NoError(t, e.Remove(ctx))
}

func TestDecideIsRepeatable(t *testing.T) {
	drv := newFakeDriver("fake", KindPath, KindAction).correct("Action:check")
	drv.failInstall["Action:check"] = true
	doc := document(
		bundle("web", entry("Action:check", "timing=pre", "when=always"), entry("Path:/w")),
		bundle("db", entry("Path:/d")),
	)

	ctx := context.Background()
	e := newTestEngine(t, doc, Options{}, drv)
	require.NoError(t, e.Inventory(ctx))
	require.NoError(t, e.Decide(ctx))
	white, black := ids(e.Whitelist()), ids(e.Blacklist())

	require.NoError(t, e.Decide(ctx))
	assert.Equal(t, white, ids(e.Whitelist()))
	assert.Equal(t, black, ids(e.Blacklist()))
}

func TestReportEntriesAreCopies(t *testing.T) {
	drv := newFakeDriver("fake", KindPath)
	a := entry("Path:/etc/a", "owner=root")
	a.Prompt = "Install it? (y/N): "
	doc := document(bundle("base", a))
	doc.Revision = "1234"
	drv.failInstall["Path:/etc/a"] = true

	report, err := newTestEngine(t, doc, Options{}, drv).Execute(context.Background())
	require.NoError(t, err)

	require.Len(t, report.Bad, 1)
	assert.Equal(t, "1234", report.Revision)
	assert.Empty(t, report.Bad[0].Prompt)
	report.Bad[0].SetAttr("owner", "nobody")
	assert.Equal(t, "root", a.Attr("owner"))
	assert.Equal(t, "Install it? (y/N): ", a.Prompt)
}

func TestReportStamps(t *testing.T) {
	drv := newFakeDriver("fake", KindPath)
	doc := document(bundle("base", entry("Path:/etc/a")))

	report, err := newTestEngine(t, doc, Options{Kevlar: true}, drv).Execute(context.Background())
	require.NoError(t, err)

	var names []string
	for _, s := range report.Stamps {
		names = append(names, s.Name)
	}
	assert.Equal(t, []string{"initialization", "inventory", "install", "remove", "reinventory", "finished"}, names)
	assert.Equal(t, 5*time.Second, report.Duration())
	assert.NotEmpty(t, report.RunID)
}

func TestExecuteCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	e := newTestEngine(t, document(), Options{}, newFakeDriver("fake", KindPath))
	_, err := e.Execute(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewRejectsInvalidOptions(t *testing.T) {
	_, err := New(document(), nil, Config{Options: Options{Quick: true}})
	require.Error(t, err)

	var ee *EngineError
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, ErrCodeValidation, ee.Code)
}
