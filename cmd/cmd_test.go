package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := &cobra.Command{Use: "mailfetch", SilenceUsage: true, SilenceErrors: true}
	Register(root)
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestPurgeCmd(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "a.xlsx"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	out, err := execute(t, "purge", dir)
	if err != nil {
		t.Fatalf("purge error = %v", err)
	}
	if !strings.Contains(out, "Removed 1 files") {
		t.Errorf("purge output = %q", out)
	}
}

func TestCmd_RequiresArgument(t *testing.T) {
	for _, name := range []string{"purge", "chart"} {
		t.Run(name, func(t *testing.T) {
			if _, err := execute(t, name); err == nil {
				t.Fatalf("%s without argument should fail", name)
			}
		})
	}
}
