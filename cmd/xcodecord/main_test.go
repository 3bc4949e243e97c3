package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"gopkg.in/yaml.v3"
	"pgregory.net/rapid"

	"tools.zach/dev/xcodecord/internal/ax"
	"tools.zach/dev/xcodecord/internal/config"
	"tools.zach/dev/xcodecord/internal/discord"
	"tools.zach/dev/xcodecord/internal/paths"
	"tools.zach/dev/xcodecord/internal/presence"
	"tools.zach/dev/xcodecord/internal/rpc"
)

var launched = time.Date(2024, 3, 13, 9, 0, 0, 0, time.UTC)

// workingSnapshot returns a running Xcode with one project window showing
// ContentView.swift.
func workingSnapshot() *ax.Snapshot {
	w := &ax.Node{
		Role:     string(ax.RoleWindow),
		Title:    "MyApp — ContentView.swift",
		Document: "file:///Users/me/MyApp/ContentView.swift",
	}
	return &ax.Snapshot{
		Process:       &ax.SnapshotProcess{PID: 42, BundleID: "com.apple.dt.Xcode", Launched: launched},
		Windows:       []*ax.Node{w},
		MainWindow:    w,
		FocusedWindow: w,
	}
}

// workingPayload is what workingSnapshot maps to with the default config and
// no icon manifest.
var workingPayload = presence.Payload{
	Details:    "In MyApp",
	State:      "Viewing ContentView.swift",
	Start:      launched,
	LargeImage: "swift",
	LargeText:  "Viewing ContentView.swift",
}

func writeSnapshot(t *testing.T, s *ax.Snapshot) string {
	t.Helper()
	data, err := s.Marshal()
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), "snapshot.yaml")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

// ///////////////////////////////////////////////
// resolveVersion Tests
// ///////////////////////////////////////////////

func TestResolveVersionWithLdflags(t *testing.T) {
	original := version
	defer func() { version = original }()

	version = "1.2.3"
	if got := resolveVersion(); got != "1.2.3" {
		t.Errorf("resolveVersion() = %q, want %q", got, "1.2.3")
	}
}

func TestResolveVersionDev(t *testing.T) {
	// Test binaries may or may not carry VCS info.
	original := version
	defer func() { version = original }()

	version = "dev"
	if got := resolveVersion(); !strings.HasPrefix(got, "dev") {
		t.Errorf("resolveVersion() = %q, expected to start with 'dev'", got)
	}
}

func TestDefaultDataDir(t *testing.T) {
	dir := defaultDataDir()
	if !strings.HasSuffix(dir, paths.DataDirRel) {
		t.Errorf("defaultDataDir() = %q, want path ending in %q", dir, paths.DataDirRel)
	}
}

// ///////////////////////////////////////////////
// toDiscordActivity Tests
// ///////////////////////////////////////////////

func TestToDiscordActivity(t *testing.T) {
	tests := []struct {
		name string
		in   presence.Payload
		want *discord.Activity
	}{
		{
			name: "full",
			in:   workingPayload,
			want: &discord.Activity{
				Details:    "In MyApp",
				State:      "Viewing ContentView.swift",
				Timestamps: &discord.Timestamps{Start: launched.Unix()},
				Assets: &discord.Assets{
					LargeImage: "swift",
					LargeText:  "Viewing ContentView.swift",
				},
			},
		},
		{
			name: "no start",
			in:   presence.Payload{Details: "In MyApp", LargeImage: "xcode"},
			want: &discord.Activity{Details: "In MyApp", Assets: &discord.Assets{LargeImage: "xcode"}},
		},
		{
			name: "empty",
			in:   presence.Payload{},
			want: &discord.Activity{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if diff := cmp.Diff(tt.want, toDiscordActivity(tt.in)); diff != "" {
				t.Errorf("toDiscordActivity mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestToDiscordActivityOptionalSections(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		p := presence.Payload{
			Details:    rapid.StringN(0, 8, -1).Draw(t, "details"),
			State:      rapid.StringN(0, 8, -1).Draw(t, "state"),
			LargeImage: rapid.SampledFrom([]string{"", "xcode", "swift"}).Draw(t, "image"),
			LargeText:  rapid.SampledFrom([]string{"", "Idling"}).Draw(t, "text"),
		}
		if rapid.Bool().Draw(t, "started") {
			p.Start = time.Unix(rapid.Int64Range(1, 1<<32).Draw(t, "start"), 0)
		}

		a := toDiscordActivity(p)
		if (a.Timestamps == nil) != p.Start.IsZero() {
			t.Fatalf("timestamps = %+v for start %v", a.Timestamps, p.Start)
		}
		if (a.Assets == nil) != (p.LargeImage == "" && p.LargeText == "") {
			t.Fatalf("assets = %+v for %+v", a.Assets, p)
		}
		if a.Details != p.Details || a.State != p.State {
			t.Fatalf("text changed: %+v -> %+v", p, a)
		}
	})
}

// ///////////////////////////////////////////////
// PID Tests
// ///////////////////////////////////////////////

func TestPidToken(t *testing.T) {
	a, b := pidToken(), pidToken()
	if a == b {
		t.Errorf("pidToken() returned the same value twice: %q", a)
	}
	if len(a) != 16 {
		t.Errorf("pidToken() length = %d, want 16", len(a))
	}
}

func TestWritePIDContent(t *testing.T) {
	dp := DataPaths{Root: t.TempDir()}
	token := pidToken()

	f, err := writePID(dp, token)
	if err != nil {
		t.Fatalf("writePID() error: %v", err)
	}
	defer func() {
		_ = unlockFile(f)
		f.Close()
	}()

	// Read through the open handle; on Windows the lock blocks os.ReadFile.
	if _, err := f.Seek(0, 0); err != nil {
		t.Fatalf("Seek() error: %v", err)
	}
	data := make([]byte, 256)
	n, err := f.Read(data)
	if err != nil {
		t.Fatalf("Read() error: %v", err)
	}
	if want := fmt.Sprintf("%d:%s", os.Getpid(), token); string(data[:n]) != want {
		t.Errorf("PID file content = %q, want %q", data[:n], want)
	}
}

func TestRemovePID(t *testing.T) {
	for _, tt := range []struct {
		name     string
		token    string
		wantGone bool
	}{
		{"matching token", "", true},
		{"other token", "someone-else", false},
	} {
		t.Run(tt.name, func(t *testing.T) {
			dp := DataPaths{Root: t.TempDir()}
			token := pidToken()
			f, err := writePID(dp, token)
			if err != nil {
				t.Fatalf("writePID() error: %v", err)
			}
			remove := token
			if tt.token != "" {
				remove = tt.token
			}

			removePID(dp, remove, f)

			_, statErr := os.Stat(dp.PID())
			if gone := errors.Is(statErr, os.ErrNotExist); gone != tt.wantGone {
				t.Errorf("PID file removed = %v, want %v", gone, tt.wantGone)
			}
		})
	}
}

func TestRemovePIDNilFile(t *testing.T) {
	removePID(DataPaths{Root: t.TempDir()}, "any-token", nil)
}

func TestCheckStalePIDNoFile(t *testing.T) {
	if alive, pid := checkStalePID(DataPaths{Root: t.TempDir()}); alive || pid != 0 {
		t.Errorf("checkStalePID() = (%v, %d), want (false, 0)", alive, pid)
	}
}

func TestCheckStalePIDRemovesStaleFile(t *testing.T) {
	dp := DataPaths{Root: t.TempDir()}
	if err := os.WriteFile(dp.PID(), []byte("99999:staletoken"), 0o600); err != nil {
		t.Fatal(err)
	}

	if alive, pid := checkStalePID(dp); alive || pid != 0 {
		t.Errorf("checkStalePID() = (%v, %d), want (false, 0)", alive, pid)
	}
	if _, err := os.Stat(dp.PID()); !errors.Is(err, os.ErrNotExist) {
		t.Error("stale PID file should have been removed")
	}
}

func TestCheckStalePIDHeldLock(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("the held lock blocks reading the PID back on Windows")
	}
	dp := DataPaths{Root: t.TempDir()}
	token := pidToken()
	f, err := writePID(dp, token)
	if err != nil {
		t.Fatalf("writePID() error: %v", err)
	}
	defer removePID(dp, token, f)

	alive, pid := checkStalePID(dp)
	if !alive || pid != os.Getpid() {
		t.Errorf("checkStalePID() = (%v, %d), want (true, %d)", alive, pid, os.Getpid())
	}
}

// ///////////////////////////////////////////////
// Command Tests
// ///////////////////////////////////////////////

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestVersionCommand(t *testing.T) {
	original := version
	defer func() { version = original }()
	version = "1.4.0"

	out, err := execute(t, "version")
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if out != "xcodecord 1.4.0\n" {
		t.Errorf("version output = %q", out)
	}
}

func TestStatusCommand(t *testing.T) {
	dir := t.TempDir()
	snap := writeSnapshot(t, workingSnapshot())

	out, err := execute(t, "status", "--data-dir", dir, "--snapshot", snap)
	if err != nil {
		t.Fatalf("status: %v\n%s", err, out)
	}

	var got statusReport
	if err := yaml.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("status output is not YAML: %v\n%s", err, out)
	}
	p := workingPayload
	want := statusReport{
		State: "Working on a project",
		Working: &presence.Working{
			Workspace:    "MyApp",
			EditorFile:   "/Users/me/MyApp/ContentView.swift",
			SessionStart: launched,
		},
		Presence: &p,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("status mismatch (-want +got):\n%s", diff)
	}

	if _, err := os.Stat(DataPaths{Root: dir}.Config()); err != nil {
		t.Errorf("config not seeded: %v", err)
	}
}

func TestStatusCommandNotRunning(t *testing.T) {
	snap := writeSnapshot(t, &ax.Snapshot{})

	out, err := execute(t, "status", "--data-dir", t.TempDir(), "--snapshot", snap)
	if err != nil {
		t.Fatalf("status: %v\n%s", err, out)
	}
	if out != "state: Not open\n" {
		t.Errorf("status output = %q", out)
	}
}

func TestStatusCommandUntrusted(t *testing.T) {
	snap := writeSnapshot(t, &ax.Snapshot{Untrusted: true})

	_, err := execute(t, "status", "--data-dir", t.TempDir(), "--snapshot", snap)
	if !errors.Is(err, errNotTrusted) {
		t.Errorf("status error = %v, want %v", err, errNotTrusted)
	}
}

func TestStatusCommandBadSnapshot(t *testing.T) {
	_, err := execute(t, "status", "--data-dir", t.TempDir(), "--snapshot", filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil {
		t.Error("status with a missing snapshot: want error")
	}
}

func TestDumpCommandRoundTrip(t *testing.T) {
	dir := t.TempDir()
	src := workingSnapshot()
	in := writeSnapshot(t, src)

	out, err := execute(t, "dump", "--data-dir", dir, "--snapshot", in)
	if err != nil {
		t.Fatalf("dump: %v\n%s", err, out)
	}
	written := DataPaths{Root: dir}.Snapshot()
	if !strings.Contains(out, written) {
		t.Errorf("dump output %q does not name %s", out, written)
	}

	got, err := ax.LoadSnapshot(written)
	if err != nil {
		t.Fatalf("loading dumped snapshot: %v", err)
	}
	if diff := cmp.Diff(src, got); diff != "" {
		t.Errorf("dumped snapshot mismatch (-want +got):\n%s", diff)
	}
}

func TestDumpCommandStdout(t *testing.T) {
	in := writeSnapshot(t, workingSnapshot())

	out, err := execute(t, "dump", "--data-dir", t.TempDir(), "--snapshot", in, "-o", "-")
	if err != nil {
		t.Fatalf("dump: %v", err)
	}
	s, err := ax.ParseSnapshot([]byte(out))
	if err != nil {
		t.Fatalf("stdout is not a snapshot: %v\n%s", err, out)
	}
	if s.Process == nil || s.Process.PID != 42 {
		t.Errorf("dumped process = %+v, want pid 42", s.Process)
	}
}

func TestTrustCommandGranted(t *testing.T) {
	snap := writeSnapshot(t, workingSnapshot())

	out, err := execute(t, "trust", "--data-dir", t.TempDir(), "--snapshot", snap)
	if err != nil {
		t.Fatalf("trust: %v", err)
	}
	if !strings.Contains(out, "granted") {
		t.Errorf("trust output = %q", out)
	}
}

func TestTrustCommandTimeout(t *testing.T) {
	snap := writeSnapshot(t, &ax.Snapshot{Untrusted: true})

	_, err := execute(t, "trust", "--data-dir", t.TempDir(), "--snapshot", snap, "--timeout", "100ms")
	if !errors.Is(err, errNotTrusted) {
		t.Errorf("trust error = %v, want %v", err, errNotTrusted)
	}
}

func TestLogsCommand(t *testing.T) {
	dir := t.TempDir()
	lines := "one\ntwo\nthree\n"
	if err := os.WriteFile(DataPaths{Root: dir}.Log(), []byte(lines), 0o644); err != nil {
		t.Fatal(err)
	}

	out, err := execute(t, "logs", "--data-dir", dir, "-n", "2")
	if err != nil {
		t.Fatalf("logs: %v", err)
	}
	if out != "two\nthree\n" {
		t.Errorf("logs output = %q, want last two lines", out)
	}

	if _, err := execute(t, "logs", "--data-dir", t.TempDir()); err == nil {
		t.Error("logs without a log file: want error")
	}
}

// ///////////////////////////////////////////////
// waitTrusted Tests
// ///////////////////////////////////////////////

// grantAfter is an [ax.System] that becomes trusted after n checks.
type grantAfter struct {
	ax.Snapshot
	n int
}

func (g *grantAfter) Trusted(bool) bool {
	g.n--
	return g.n < 0
}

func TestWaitTrustedGrant(t *testing.T) {
	sys := &grantAfter{n: 3}
	if err := waitTrusted(context.Background(), sys, time.Second, time.Millisecond); err != nil {
		t.Errorf("waitTrusted = %v, want nil", err)
	}
}

func TestWaitTrustedCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := waitTrusted(ctx, &ax.Snapshot{Untrusted: true}, 0, time.Millisecond)
	if !errors.Is(err, errNotTrusted) {
		t.Errorf("waitTrusted = %v, want %v", err, errNotTrusted)
	}
}

// ///////////////////////////////////////////////
// Daemon Tests
// ///////////////////////////////////////////////

// fakeConn records transport calls. Handler callbacks are raised by tests.
type fakeConn struct {
	appID   string
	handler discord.Handler

	connects    int
	disconnects int
	closes      int
	pushed      []presence.Payload
}

func (f *fakeConn) dial(appID string, h discord.Handler) connection {
	f.appID, f.handler = appID, h
	return f
}

func (f *fakeConn) Connect() bool { f.connects++; return true }

func (f *fakeConn) Disconnect() { f.disconnects++ }

func (f *fakeConn) SetPresence(p presence.Payload) error {
	f.pushed = append(f.pushed, p)
	return nil
}

func (f *fakeConn) Close() error { f.closes++; return nil }

func (f *fakeConn) lastPush(t *testing.T) presence.Payload {
	t.Helper()
	if len(f.pushed) == 0 {
		t.Fatal("nothing pushed")
	}
	return f.pushed[len(f.pushed)-1]
}

func testDaemon(t *testing.T, sys ax.System) (*daemon, *fakeConn) {
	t.Helper()
	fc := &fakeConn{}
	d := newDaemon(DataPaths{Root: t.TempDir()}, config.DefaultConfig(), new(slog.LevelVar), sys, nil, fc.dial)
	t.Cleanup(d.close)
	return d, fc
}

// drainEvents runs every queued transport callback.
func drainEvents(d *daemon) {
	for {
		select {
		case fn := <-d.events:
			fn()
		default:
			return
		}
	}
}

func TestDaemonPresenceLifecycle(t *testing.T) {
	snap := workingSnapshot()
	d, fc := testDaemon(t, snap)
	if fc.appID != config.DefaultDiscordAppID {
		t.Errorf("dialed app ID %q, want %q", fc.appID, config.DefaultDiscordAppID)
	}

	if err := d.tick(); err != nil {
		t.Fatalf("tick: %v", err)
	}
	if fc.connects != 1 || len(fc.pushed) != 0 {
		t.Fatalf("after first poll: connects=%d pushed=%d, want 1 and 0", fc.connects, len(fc.pushed))
	}

	fc.handler.OnConnect()
	drainEvents(d)
	if diff := cmp.Diff(workingPayload, fc.lastPush(t)); diff != "" {
		t.Errorf("pushed payload mismatch (-want +got):\n%s", diff)
	}

	// Xcode quits.
	snap.Process = nil
	if err := d.tick(); err != nil {
		t.Fatalf("tick: %v", err)
	}
	if fc.disconnects != 1 {
		t.Errorf("disconnects = %d, want 1", fc.disconnects)
	}
	fc.handler.OnDisconnect(0, "closed")
	drainEvents(d)
	if got := d.manager.Status(); got != rpc.Disconnected {
		t.Errorf("status = %v, want %v", got, rpc.Disconnected)
	}
}

func TestDaemonTransportError(t *testing.T) {
	d, fc := testDaemon(t, workingSnapshot())
	d.tick()
	fc.handler.OnConnect()
	drainEvents(d)

	fc.handler.OnError(4000, "invalid payload")
	drainEvents(d)
	if fc.disconnects != 1 || d.manager.Connected() {
		t.Errorf("after error: disconnects=%d connected=%v, want 1 and false", fc.disconnects, d.manager.Connected())
	}

	// The next poll reconnects.
	d.tick()
	if fc.connects != 2 {
		t.Errorf("connects = %d, want 2", fc.connects)
	}
}

func writeConfig(t *testing.T, d *daemon, body string) {
	t.Helper()
	if err := os.WriteFile(d.dataPaths.Config(), []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestDaemonReload(t *testing.T) {
	d, fc := testDaemon(t, workingSnapshot())
	d.tick()
	fc.handler.OnConnect()
	drainEvents(d)

	writeConfig(t, d, `version = 1
[display]
details = "Hacking on {workspace}"
[behavior]
poll_interval_seconds = 5
[log]
level = "debug"
`)
	if !d.reload() {
		t.Fatal("reload rejected a valid config")
	}
	if got := fc.lastPush(t).Details; got != "Hacking on MyApp" {
		t.Errorf("details after reload = %q, want %q", got, "Hacking on MyApp")
	}
	if got := d.pollInterval(); got != 5*time.Second {
		t.Errorf("poll interval = %v, want 5s", got)
	}
	if got := d.level.Level(); got != slog.LevelDebug {
		t.Errorf("log level = %v, want DEBUG", got)
	}

	pushes := len(fc.pushed)
	writeConfig(t, d, "version = 1\n[log]\nlevel = \"loud\"\n")
	if d.reload() {
		t.Fatal("reload accepted an invalid config")
	}
	if d.cfg.Display.Details != "Hacking on {workspace}" {
		t.Errorf("invalid reload replaced config: details = %q", d.cfg.Display.Details)
	}
	if len(fc.pushed) != pushes {
		t.Errorf("invalid reload pushed presence")
	}
}

func TestDaemonPermissionTimeout(t *testing.T) {
	snap := workingSnapshot()
	snap.Untrusted = true
	d, fc := testDaemon(t, snap)
	d.cfg.Behavior.PermissionTimeoutSeconds = 10
	now := launched
	d.now = func() time.Time { return now }

	d.requestTrust()
	if !d.awaitingTrust {
		t.Fatal("requestTrust did not arm the permission wait")
	}
	if err := d.tick(); err != nil {
		t.Fatalf("tick before deadline: %v", err)
	}
	if fc.connects != 0 {
		t.Errorf("polled without permission: connects = %d", fc.connects)
	}

	now = now.Add(11 * time.Second)
	if err := d.tick(); !errors.Is(err, errNotTrusted) {
		t.Errorf("tick after deadline = %v, want %v", err, errNotTrusted)
	}
}

func TestDaemonPermissionGranted(t *testing.T) {
	snap := workingSnapshot()
	snap.Untrusted = true
	d, fc := testDaemon(t, snap)

	d.requestTrust()
	snap.Untrusted = false
	if err := d.tick(); err != nil {
		t.Fatalf("tick: %v", err)
	}
	if d.awaitingTrust {
		t.Error("still awaiting permission after the grant")
	}
	if fc.connects != 1 {
		t.Errorf("connects = %d, want 1", fc.connects)
	}
}

func TestDaemonPermissionWaitsForever(t *testing.T) {
	snap := workingSnapshot()
	snap.Untrusted = true
	d, _ := testDaemon(t, snap)
	d.cfg.Behavior.PermissionTimeoutSeconds = 0
	now := launched
	d.now = func() time.Time { return now }

	d.requestTrust()
	now = now.Add(24 * time.Hour)
	if err := d.tick(); err != nil {
		t.Errorf("tick with no timeout = %v, want nil", err)
	}
}

func TestDaemonRunStopsOnSignal(t *testing.T) {
	d, fc := testDaemon(t, workingSnapshot())
	sig := make(chan os.Signal, 1)
	errc := make(chan error, 1)
	go func() { errc <- d.run(context.Background(), nil, sig) }()

	sig <- os.Interrupt
	select {
	case err := <-errc:
		if err != nil {
			t.Errorf("run = %v, want nil", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("run did not stop on signal")
	}
	if fc.connects != 1 {
		t.Errorf("initial poll connects = %d, want 1", fc.connects)
	}
}

func TestDaemonRunPermissionTimeout(t *testing.T) {
	snap := workingSnapshot()
	snap.Untrusted = true
	d, _ := testDaemon(t, snap)
	d.cfg.Behavior.PermissionTimeoutSeconds = 1

	// The deadline is armed at the first reading; every later one is past it.
	start := launched
	d.now = func() time.Time {
		cur := start
		start = start.Add(time.Hour)
		return cur
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := d.run(ctx, nil, nil); !errors.Is(err, errNotTrusted) {
		t.Errorf("run = %v, want %v", err, errNotTrusted)
	}
}

func TestDaemonCloseDropsCallbacks(t *testing.T) {
	fc := &fakeConn{}
	d := newDaemon(DataPaths{Root: t.TempDir()}, config.DefaultConfig(), new(slog.LevelVar), workingSnapshot(), nil, fc.dial)
	for range cap(d.events) {
		d.post(func() {})
	}
	d.close()

	done := make(chan struct{})
	go func() {
		fc.handler.OnConnect()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("callback blocked after close")
	}
	if fc.closes != 1 {
		t.Errorf("closes = %d, want 1", fc.closes)
	}
}
