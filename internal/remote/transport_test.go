package remote_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uqdispatch/uqdispatch/internal/common/uqcontext"
	"github.com/uqdispatch/uqdispatch/internal/common/uqerrors"
	"github.com/uqdispatch/uqdispatch/internal/remote"
	"github.com/uqdispatch/uqdispatch/internal/remote/fake"
)

func TestSSHTransport_Run(t *testing.T) {
	executor := fake.NewExecutor().On("ssh", fake.Respond(0, "hello\n", ""))
	transport := remote.NewSSHTransport("user@cluster", []string{"-o", "BatchMode=yes"}, executor)

	result, err := transport.Run(uqcontext.Background(), remote.NewCommand("echo", "hello").InDir("/scratch/exp"))
	require.NoError(t, err)
	assert.Equal(t, "hello\n", result.Stdout)
	assert.Equal(t,
		[]string{`ssh -o BatchMode=yes user@cluster 'cd /scratch/exp && echo hello'`},
		executor.Commands())
}

func TestSSHTransport_MakeDir_StderrIsFatal(t *testing.T) {
	executor := fake.NewExecutor().On("mkdir", fake.Respond(0, "", "mkdir: cannot create directory '/scratch': Permission denied"))
	transport := remote.NewSSHTransport("cluster", nil, executor)

	err := transport.MakeDir(uqcontext.Background(), "/scratch/exp/1")
	var e *uqerrors.ErrRemoteCommand
	require.ErrorAs(t, err, &e)
	assert.Equal(t, "cluster", e.Host)
	assert.Contains(t, e.Stderr, "Permission denied")
	assert.Equal(t, []string{"ssh cluster 'mkdir -p /scratch/exp/1'"}, executor.Commands())
}

func TestSSHTransport_FileExists(t *testing.T) {
	tests := map[string]struct {
		exitCode int
		exists   bool
		err      bool
	}{
		"present":     {exitCode: 0, exists: true},
		"absent":      {exitCode: 1, exists: false},
		"unreachable": {exitCode: 255, err: true},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			executor := fake.NewExecutor().On("test -e", fake.Respond(tc.exitCode, "", ""))
			transport := remote.NewSSHTransport("cluster", nil, executor)
			exists, err := transport.FileExists(uqcontext.Background(), "/scratch/exp/1/output/exp_1.control")
			if tc.err {
				require.Error(t, err)
				assert.True(t, remote.IsConnectionFailure(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.exists, exists)
		})
	}
}

func TestSSHTransport_Copy(t *testing.T) {
	executor := fake.NewExecutor()
	transport := remote.NewSSHTransport("cluster", []string{"-o", "LogLevel=ERROR"}, executor)
	ctx := uqcontext.Background()

	require.NoError(t, transport.CopyTo(ctx, "/local/mesh.dat", "/scratch/exp"))
	require.NoError(t, transport.CopyFrom(ctx, "/scratch/exp/1/output/result.csv", "/local/exp/1/output"))
	assert.Equal(t, []string{
		"scp -r -o LogLevel=ERROR /local/mesh.dat cluster:/scratch/exp",
		"scp -r -o LogLevel=ERROR cluster:/scratch/exp/1/output/result.csv /local/exp/1/output",
	}, executor.Commands())
}

func TestSSHTransport_CopyFailure(t *testing.T) {
	executor := fake.NewExecutor().On("scp", fake.Respond(1, "", "scp: /scratch: No such file or directory"))
	transport := remote.NewSSHTransport("cluster", nil, executor)
	assert.Error(t, transport.CopyTo(uqcontext.Background(), "/local/a", "/scratch/a"))
}

func TestStart(t *testing.T) {
	executor := fake.NewExecutor().On("nohup", fake.Respond(0, "4242\n", ""))
	transport := remote.NewSSHTransport("cluster", nil, executor)

	cmd := remote.NewCommand("/opt/sim", "in.dat", "out").InDir("/scratch/exp/1")
	pid, err := remote.Start(uqcontext.Background(), transport, cmd, remote.DetachedOutput{
		Stdout:   "/scratch/exp/1/output/exp_1.out",
		Stderr:   "/scratch/exp/1/output/exp_1.err",
		Sentinel: "/scratch/exp/1/output/exp_1.control",
	})
	require.NoError(t, err)
	assert.Equal(t, "4242", pid)
	commands := executor.Commands()
	require.Len(t, commands, 1)
	assert.Contains(t, commands[0], "cd /scratch/exp/1 && sh -c")
	assert.Contains(t, commands[0], "nohup sh -c")
	assert.Contains(t, commands[0], "/opt/sim in.dat out; echo $? > /scratch/exp/1/output/exp_1.control")
}

func TestStart_Local(t *testing.T) {
	dir := t.TempDir()
	transport := remote.NewLocalTransport(&remote.ProcessExecutor{})
	ctx := uqcontext.Background()

	cmd := remote.NewCommand("sh", "-c", "echo detached; exit 4").InDir(dir)
	sentinel := filepath.Join(dir, "job.control")
	pid, err := remote.Start(ctx, transport, cmd, remote.DetachedOutput{
		Stdout:   filepath.Join(dir, "job.out"),
		Stderr:   filepath.Join(dir, "job.err"),
		Sentinel: sentinel,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, pid)

	require.Eventually(t, func() bool {
		data, err := os.ReadFile(sentinel)
		return err == nil && len(data) > 0
	}, 5*time.Second, 20*time.Millisecond)

	code, err := transport.ReadFile(ctx, sentinel)
	require.NoError(t, err)
	assert.Equal(t, "4\n", string(code))
	out, err := transport.ReadFile(ctx, filepath.Join(dir, "job.out"))
	require.NoError(t, err)
	assert.Equal(t, "detached\n", string(out))
}

func TestLocalTransport_Files(t *testing.T) {
	ctx := uqcontext.Background()
	transport := remote.NewLocalTransport(fake.NewExecutor())
	src := t.TempDir()
	dst := t.TempDir()

	require.NoError(t, os.MkdirAll(filepath.Join(src, "mesh"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(src, "mesh", "grid.dat"), []byte("grid"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(src, "input.tmpl"), []byte("x = {{ .x }}"), 0o644))

	require.NoError(t, transport.CopyTo(ctx, filepath.Join(src, "mesh"), filepath.Join(dst, "mesh")))
	require.NoError(t, transport.CopyTo(ctx, filepath.Join(src, "input.tmpl"), filepath.Join(dst, "input.tmpl")))
	require.NoError(t, transport.CopyTo(ctx, filepath.Join(dst, "input.tmpl"), filepath.Join(dst, "input.tmpl")))

	exists, err := transport.FileExists(ctx, filepath.Join(dst, "mesh", "grid.dat"))
	require.NoError(t, err)
	assert.True(t, exists)
	data, err := transport.ReadFile(ctx, filepath.Join(dst, "input.tmpl"))
	require.NoError(t, err)
	assert.Equal(t, "x = {{ .x }}", string(data))

	exists, err = transport.FileExists(ctx, filepath.Join(dst, "missing"))
	require.NoError(t, err)
	assert.False(t, exists)

	nested := filepath.Join(dst, "a", "b", "c")
	require.NoError(t, transport.MakeDir(ctx, nested))
	require.NoError(t, transport.MakeDir(ctx, nested))
	assert.DirExists(t, nested)
}

func TestCheckResult(t *testing.T) {
	cmd := remote.NewCommand("qsub", "job.sh")
	assert.NoError(t, remote.CheckResult("", cmd, &remote.Result{ExitCode: 0, Stderr: "warning: deprecated option"}))
	assert.Error(t, remote.CheckResult("cluster", cmd, &remote.Result{ExitCode: 0, Stderr: "warning: deprecated option"}))
	assert.NoError(t, remote.CheckResult("cluster", cmd, &remote.Result{ExitCode: 0, Stderr: "  \n"}))
	assert.Error(t, remote.CheckResult("", cmd, &remote.Result{ExitCode: 1}))
}

func TestRemoveFile(t *testing.T) {
	ctx := uqcontext.Background()
	path := filepath.Join(t.TempDir(), "stale.control")
	require.NoError(t, os.WriteFile(path, []byte("0\n"), 0o644))

	local := remote.NewLocalTransport(fake.NewExecutor())
	require.NoError(t, local.RemoveFile(ctx, path))
	require.NoError(t, local.RemoveFile(ctx, path))
	assert.NoFileExists(t, path)

	executor := fake.NewExecutor()
	ssh := remote.NewSSHTransport("cluster", nil, executor)
	require.NoError(t, ssh.RemoveFile(ctx, "/scratch/exp/1/1/output/exp_1.control"))
	assert.Equal(t, []string{"ssh cluster 'rm -f /scratch/exp/1/1/output/exp_1.control'"}, executor.Commands())
}
