package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coral-mesh/memlens/internal/config"
	"github.com/coral-mesh/memlens/internal/liveness"
	"github.com/coral-mesh/memlens/internal/memory"
	"github.com/coral-mesh/memlens/internal/sys/procmem"
	"github.com/coral-mesh/memlens/internal/sys/procmem/procmemtest"
	"github.com/coral-mesh/memlens/internal/testutil"
)

const (
	testPID       = 77
	testImageBase = uint64(0x1400000)
	heapBase      = uint64(0x10000)
)

// putString lays out a short inline string record.
func putString(p *procmemtest.Process, addr uint64, text string) {
	p.Put(addr+4, []byte(text))
	p.PutI32(addr+20, int32(len(text)))
	p.PutI32(addr+24, 15)
}

func newTestProcess() *procmemtest.Process {
	p := procmemtest.NewProcess(testPID).
		Map(heapBase, 0x1000, procmem.PageReadWrite).
		Map(testImageBase, 0x1000, procmem.PageReadOnly).
		Map(testImageBase+0x1000, 0x2000, procmem.PageExecuteRead)
	p.Base = testImageBase
	p.Put(testImageBase, []byte("MZ"))
	p.PutI32(testImageBase+0x3c, 0x80)
	p.Put(testImageBase+0x80, []byte("PE\x00\x00"))
	p.PutU32(testImageBase+0x88, 0x4a1b2c3d)

	putString(p, 0x10100, "Urist")
	putString(p, 0x10180, "Mistem")

	p.PutU32(0x10204, 0x10300)
	p.PutU32(0x10208, 0x10308)
	p.PutU32(0x10300, 0x10100)
	p.PutU32(0x10304, 0x10180)
	return p
}

type cliFixture struct {
	t    *testing.T
	dir  string
	proc *procmemtest.Process
	sys  *procmemtest.System
}

func newCLIFixture(t *testing.T) *cliFixture {
	t.Helper()
	p := newTestProcess()
	sys := procmemtest.NewSystem(p)
	sys.Matches[procmem.Matcher{ProcessName: "Dwarf Fortress.exe"}] = testPID

	orig := newSystem
	newSystem = func() procmem.System { return sys }
	t.Cleanup(func() { newSystem = orig })

	return &cliFixture{t: t, dir: t.TempDir(), proc: p, sys: sys}
}

func (f *cliFixture) run(args ...string) (string, error) {
	f.t.Helper()
	root := NewRootCmd()
	var out, logs bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&logs)
	root.SetArgs(append([]string{"--config-dir", f.dir, "--log-level", "error"}, args...))
	ctx, cancel := testutil.NewTestContext()
	defer cancel()
	err := root.ExecuteContext(ctx)
	return out.String(), err
}

func (f *cliFixture) writeLayouts(content string) {
	f.t.Helper()
	require.NoError(f.t, os.WriteFile(filepath.Join(f.dir, config.LayoutsFile), []byte(content), 0o600))
}

const completeLayouts = `
layouts:
  - fingerprint: "4a1b2c3d"
    name: v0.31.25
    complete: true
    string: {buffer_offset: 4, length_offset: 20, capacity_offset: 24}
    array: {start_offset: 4, end_offset: 8}
    fields:
      creature_vector: 0x1000
`

func TestAttachCmd(t *testing.T) {
	f := newCLIFixture(t)

	out, err := f.run("attach")
	require.NoError(t, err)
	assert.Contains(t, out, "Attached to pid 77")
	assert.Contains(t, out, "4a1b2c3d")
	assert.Contains(t, out, "+0x1000000")
	assert.Contains(t, out, "fallback")
	assert.Contains(t, out, "best-effort")
	assert.Equal(t, 1, f.proc.Closed, "session is detached after the command")
}

func TestAttachCmd_JSON(t *testing.T) {
	f := newCLIFixture(t)
	f.writeLayouts(completeLayouts)

	out, err := f.run("attach", "-o", "json")
	require.NoError(t, err)

	var report attachReport
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Equal(t, testPID, report.PID)
	assert.Equal(t, testImageBase, report.ImageBase)
	assert.Equal(t, int64(0x1000000), report.Correction)
	assert.Equal(t, "v0.31.25", report.Layout)
	assert.True(t, report.LayoutComplete)
	assert.Equal(t, 3, report.Regions.Accepted)
}

func TestAttachCmd_LinkBaseFlag(t *testing.T) {
	f := newCLIFixture(t)

	out, err := f.run("attach", "-o", "json", "--link-base", "0x1000000")
	require.NoError(t, err)

	var report attachReport
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Equal(t, int64(0x400000), report.Correction)
}

func TestAttachCmd_ProcessNotFound(t *testing.T) {
	f := newCLIFixture(t)
	delete(f.sys.Matches, procmem.Matcher{ProcessName: "Dwarf Fortress.exe"})

	_, err := f.run("attach")
	assert.ErrorIs(t, err, memory.ErrProcessNotFound)
}

func TestAttachCmd_ProcessFlagTriedFirst(t *testing.T) {
	f := newCLIFixture(t)
	f.sys.Matches[procmem.Matcher{ProcessName: "df.exe"}] = testPID

	_, err := f.run("attach", "--process", "df.exe")
	require.NoError(t, err)
	assert.Equal(t, procmem.Matcher{ProcessName: "df.exe"}, f.sys.Tried[0])
	assert.Len(t, f.sys.Tried, 1)
}

func TestRegionsCmd(t *testing.T) {
	f := newCLIFixture(t)

	out, err := f.run("regions", "-o", "csv")
	require.NoError(t, err)
	assert.Contains(t, out, "Start,End,Size,Guarded\n")
	assert.Contains(t, out, "0x00010000,0x00011000,4096,false\n")
	assert.Contains(t, out, "0x01401000,0x01403000,8192,false\n")

	out, err = f.run("regions", "--verbose")
	require.NoError(t, err)
	assert.Contains(t, out, "Accepted")
	assert.Contains(t, out, "Digest")
}

func TestReadCmd(t *testing.T) {
	f := newCLIFixture(t)
	f.proc.PutI32(0x10010, -42)

	tests := []struct {
		name string
		args []string
		want string
	}{
		{name: "i32", args: []string{"read", "0x10010", "-t", "i32", "-o", "csv"}, want: "0x00010010,-42"},
		{name: "u16", args: []string{"read", "0x10010", "-t", "u16", "-o", "csv"}, want: "0x00010010,65494"},
		{name: "relocated timestamp", args: []string{"read", "0x400088", "--relocate", "-o", "csv"}, want: "0x01400088,1243294781"},
		{name: "pointer count", args: []string{"read", "0x10300", "-t", "ptr", "-n", "2", "-o", "csv"}, want: "0x00010304,0x00010180"},
		{name: "guarded unmapped", args: []string{"read", "0x900000", "--guarded", "-o", "csv"}, want: "0x00900000,0"},
		{name: "bytes", args: []string{"read", "0x1400000", "-t", "bytes", "-n", "2"}, want: "4d 5a"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := f.run(tt.args...)
			require.NoError(t, err)
			assert.Contains(t, out, tt.want)
		})
	}
}

func TestReadCmd_Errors(t *testing.T) {
	f := newCLIFixture(t)

	_, err := f.run("read", "0x10000", "-t", "f32")
	assert.ErrorContains(t, err, "unsupported type")

	_, err = f.run("read", "banana")
	assert.ErrorContains(t, err, "invalid address")

	_, err = f.run("read", "0x10000", "-n", "0")
	assert.Error(t, err)
}

func TestWriteCmd(t *testing.T) {
	f := newCLIFixture(t)

	out, err := f.run("write", "0x10020", "--i32=-5")
	require.NoError(t, err)
	assert.Contains(t, out, "Wrote 4 bytes at 0x00010020")
	assert.Equal(t, []byte{0xfb, 0xff, 0xff, 0xff}, f.proc.Bytes(0x10020, 4))

	_, err = f.run("write", "0x10030", "--hex", "de ad be ef")
	require.NoError(t, err)
	assert.Equal(t, []byte{0xde, 0xad, 0xbe, 0xef}, f.proc.Bytes(0x10030, 4))

	_, err = f.run("write", "0x10030")
	assert.Error(t, err)

	_, err = f.run("write", "0x10030", "--hex", "zz")
	assert.ErrorContains(t, err, "invalid --hex payload")
}

func TestStringCmd(t *testing.T) {
	f := newCLIFixture(t)

	out, err := f.run("string", "0x10100")
	require.NoError(t, err)
	assert.Contains(t, out, `"Urist"`)
	assert.Contains(t, out, "inline")

	out, err = f.run("string", "0x10100", "--set", "Tholtig", "-o", "json")
	require.NoError(t, err)

	var report stringReport
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Equal(t, "Tholtig", report.Text)
	assert.Equal(t, int32(7), report.View.Length)
	assert.Equal(t, []byte("Tholtig"), f.proc.Bytes(0x10104, 7))
}

func TestArrayCmd(t *testing.T) {
	f := newCLIFixture(t)

	out, err := f.run("array", "0x10200", "--strings", "-o", "csv")
	require.NoError(t, err)
	assert.Equal(t, "Index,Value,String\n0,0x00010100,Urist\n1,0x00010180,Mistem\n", out)

	out, err = f.run("array", "0x10400")
	require.NoError(t, err)
	assert.Contains(t, out, "Array is empty")
}

func TestArrayCmd_StrictViolation(t *testing.T) {
	f := newCLIFixture(t)
	f.writeLayouts(completeLayouts)
	f.proc.PutU32(0x10208, 0x10302)

	_, err := f.run("array", "0x10200")
	var violation *memory.InvariantViolation
	require.ErrorAs(t, err, &violation)
	assert.Equal(t, "(end - start) % stride == 0", violation.Check)
}

func TestWatchCmd_TargetExits(t *testing.T) {
	f := newCLIFixture(t)
	f.proc.Dead = true

	out, err := f.run("watch", "--interval", "10ms")
	assert.ErrorIs(t, err, liveness.ErrDisconnected)
	assert.Contains(t, out, "Attached to pid 77")
	assert.Equal(t, 1, f.proc.Closed)
}

func TestLayoutsCmd(t *testing.T) {
	f := newCLIFixture(t)

	out, err := f.run("layouts", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "No layouts registered")

	f.writeLayouts(completeLayouts)
	out, err = f.run("layouts", "list", "-o", "csv")
	require.NoError(t, err)
	assert.Contains(t, out, "4a1b2c3d,v0.31.25,true,4,0x00400000,creature_vector")

	f.writeLayouts("layouts: [{fingerprint: 4a1b2c3d, pointer_size: 3}]")
	_, err = f.run("layouts", "list")
	assert.ErrorContains(t, err, "pointer_size")
}

func TestLayoutsSchemaCmd(t *testing.T) {
	f := newCLIFixture(t)

	out, err := f.run("layouts", "schema")
	require.NoError(t, err)

	var schema map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &schema))
	assert.Contains(t, out, "fingerprint")
}

func TestConfigCmd(t *testing.T) {
	f := newCLIFixture(t)

	out, err := f.run("config", "init")
	require.NoError(t, err)
	assert.Contains(t, out, filepath.Join(f.dir, config.ConfigFile))

	_, err = f.run("config", "init")
	assert.ErrorContains(t, err, "already exists")

	_, err = f.run("config", "init", "--force")
	require.NoError(t, err)

	out, err = f.run("config", "show", "--strict")
	require.NoError(t, err)
	assert.Contains(t, out, "strict: true")
	assert.Contains(t, out, "Dwarf Fortress.exe")
}

func TestVersionCmd(t *testing.T) {
	f := newCLIFixture(t)

	out, err := f.run("version")
	require.NoError(t, err)
	assert.Contains(t, out, "memlens version")
}
