package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/adrg/xdg"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ysasiwat/syncstage/pkg/syncstage/logging"
)

// isolate points every XDG directory at a temp dir so runs never touch the
// user's config, cache, logs or history.
func isolate(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Cleanup(xdg.Reload)
	for _, env := range []string{"XDG_CONFIG_HOME", "XDG_STATE_HOME", "XDG_CACHE_HOME", "XDG_DATA_HOME"} {
		t.Setenv(env, filepath.Join(home, strings.ToLower(strings.TrimPrefix(env, "XDG_"))))
	}
	xdg.Reload()
	t.Cleanup(func() { _ = logging.Close() })
	return home
}

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(append([]string{"--quiet"}, args...))
	err := cmd.ExecuteContext(context.Background())
	return stdout.String(), err
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestScanJSON(t *testing.T) {
	isolate(t)
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a.txt"), "alpha")
	writeFile(t, filepath.Join(root, "sub", "b.jpg"), "bravo!")
	writeFile(t, filepath.Join(root, ".git", "config"), "ignored")

	out, err := runCLI(t, "scan", root, "-o", "json")
	require.NoError(t, err)

	var rep struct {
		Files []struct {
			Path string `json:"path"`
		} `json:"files"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &rep))
	var paths []string
	for _, f := range rep.Files {
		paths = append(paths, f.Path)
	}
	assert.Equal(t, []string{"a.txt", "sub/b.jpg"}, paths)

	out, err = runCLI(t, "scan", root, "-o", "paths", "--ext", "jpg")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "sub", "b.jpg")+"\n", out)
}

type dedupeOutput struct {
	DryRun bool `json:"dry_run"`
	Groups []struct {
		Redundant []json.RawMessage `json:"redundant"`
	} `json:"groups"`
	DedupeStats struct {
		Groups    int   `json:"groups"`
		Redundant int   `json:"redundant"`
		Wasted    int64 `json:"wasted"`
	} `json:"dedupe_stats"`
	Apply *struct {
		Summary struct {
			Done  int `json:"done"`
			Would int `json:"would"`
		} `json:"summary"`
	} `json:"apply"`
}

func TestDedupe(t *testing.T) {
	isolate(t)
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "one.txt"), "same content")
	writeFile(t, filepath.Join(root, "copy", "two.txt"), "same content")
	writeFile(t, filepath.Join(root, "unique.txt"), "different")
	writeFile(t, filepath.Join(root, "empty1"), "")
	writeFile(t, filepath.Join(root, "empty2"), "")

	t.Run("report", func(t *testing.T) {
		out, err := runCLI(t, "dedupe", root, "-o", "json")
		require.NoError(t, err)

		var rep dedupeOutput
		require.NoError(t, json.Unmarshal([]byte(out), &rep))
		require.Len(t, rep.Groups, 1)
		assert.Len(t, rep.Groups[0].Redundant, 1)
		assert.Equal(t, 1, rep.DedupeStats.Groups)
		assert.Equal(t, int64(len("same content")), rep.DedupeStats.Wasted)
		assert.Nil(t, rep.Apply)
	})

	t.Run("delete dry run changes nothing", func(t *testing.T) {
		out, err := runCLI(t, "dedupe", root, "--mode", "delete", "-o", "json")
		require.NoError(t, err)

		var rep dedupeOutput
		require.NoError(t, json.Unmarshal([]byte(out), &rep))
		assert.True(t, rep.DryRun)
		require.NotNil(t, rep.Apply)
		assert.Equal(t, 1, rep.Apply.Summary.Would)
		assert.FileExists(t, filepath.Join(root, "one.txt"))
		assert.FileExists(t, filepath.Join(root, "copy", "two.txt"))
	})

	t.Run("delete applied keeps one copy", func(t *testing.T) {
		_, err := runCLI(t, "dedupe", root, "--mode", "delete", "--apply", "-o", "json")
		require.NoError(t, err)

		_, errOne := os.Stat(filepath.Join(root, "one.txt"))
		_, errTwo := os.Stat(filepath.Join(root, "copy", "two.txt"))
		assert.True(t, (errOne == nil) != (errTwo == nil), "exactly one copy should remain")
		assert.FileExists(t, filepath.Join(root, "unique.txt"))
		assert.FileExists(t, filepath.Join(root, "empty1"))
		assert.FileExists(t, filepath.Join(root, "empty2"))

		out, err := runCLI(t, "history", "-o", "json")
		require.NoError(t, err)
		var hist struct {
			History []struct {
				Operation string `json:"operation"`
			} `json:"history"`
		}
		require.NoError(t, json.Unmarshal([]byte(out), &hist))
		require.Len(t, hist.History, 1)
		assert.Equal(t, "dedupe", hist.History[0].Operation)
	})
}

func TestDedupeRejectsNestedRoots(t *testing.T) {
	isolate(t)
	root := realTempDir(t)
	only := filepath.Join(root, "sub", "only.txt")
	writeFile(t, only, "the only copy")

	_, err := runCLI(t, "dedupe", root, filepath.Join(root, "sub"), "--mode", "delete", "--apply")
	require.ErrorIs(t, err, errOverlappingRoots)
	assert.FileExists(t, only)

	link := filepath.Join(t.TempDir(), "alias")
	require.NoError(t, os.Symlink(root, link))
	_, err = runCLI(t, "dedupe", root, link, "--mode", "delete", "--apply")
	require.NoError(t, err)
	assert.FileExists(t, only)
}

func TestDedupeRehashesBeforeDeleting(t *testing.T) {
	isolate(t)
	root := realTempDir(t)
	a := filepath.Join(root, "a.txt")
	b := filepath.Join(root, "b.txt")
	writeFile(t, a, "twin content")
	writeFile(t, b, "twin content")

	out, err := runCLI(t, "dedupe", root, "-o", "json")
	require.NoError(t, err)
	var rep dedupeOutput
	require.NoError(t, json.Unmarshal([]byte(out), &rep))
	require.Len(t, rep.Groups, 1)

	corruptInPlace(t, b, "unique bytes")

	out, err = runCLI(t, "dedupe", root, "--mode", "delete", "--apply", "-o", "json")
	require.NoError(t, err)
	rep = dedupeOutput{}
	require.NoError(t, json.Unmarshal([]byte(out), &rep))
	assert.Empty(t, rep.Groups)
	assert.FileExists(t, a)
	assert.FileExists(t, b)

	got, err := os.ReadFile(b)
	require.NoError(t, err)
	assert.Equal(t, "unique bytes", string(got))
}

func TestDedupeInvalidMode(t *testing.T) {
	isolate(t)
	_, err := runCLI(t, "dedupe", t.TempDir(), "--mode", "shred")
	assert.Error(t, err)
}

func TestVerifyWriteAndCheck(t *testing.T) {
	isolate(t)
	root := realTempDir(t)
	writeFile(t, filepath.Join(root, "a.txt"), "alpha")
	writeFile(t, filepath.Join(root, "b", "c.txt"), "charlie")

	out, err := runCLI(t, "verify", "write", root, "--apply", "-o", "json")
	require.NoError(t, err)
	var written struct {
		Manifest string `json:"manifest"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &written))
	assert.FileExists(t, written.Manifest)
	assert.Equal(t, root, filepath.Dir(written.Manifest))

	_, err = runCLI(t, "verify", "check", root, "-o", "json")
	require.NoError(t, err, "an untouched tree must verify")

	writeFile(t, filepath.Join(root, "a.txt"), "ALPHA")
	writeFile(t, filepath.Join(root, "new.txt"), "new")

	out, err = runCLI(t, "verify", "check", root, "-o", "json")
	require.ErrorIs(t, err, errTreeChanged)

	var checked struct {
		Diff struct {
			Modified []struct {
				Path string `json:"path"`
			} `json:"modified"`
			Added []struct {
				Path string `json:"path"`
			} `json:"added"`
		} `json:"diff"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &checked))
	require.Len(t, checked.Diff.Modified, 1)
	assert.Equal(t, "a.txt", checked.Diff.Modified[0].Path)
	require.Len(t, checked.Diff.Added, 1)
	assert.Equal(t, "new.txt", checked.Diff.Added[0].Path)
}

func TestVerifyWriteDryRunWritesNothing(t *testing.T) {
	isolate(t)
	root := realTempDir(t)
	writeFile(t, filepath.Join(root, "a.txt"), "alpha")

	out, err := runCLI(t, "verify", "write", root, "-o", "json")
	require.NoError(t, err)
	var rep struct {
		DryRun   bool   `json:"dry_run"`
		Manifest string `json:"manifest"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &rep))
	assert.True(t, rep.DryRun)
	assert.Equal(t, root, filepath.Dir(rep.Manifest))
	assert.NoFileExists(t, rep.Manifest)

	matches, err := filepath.Glob(filepath.Join(root, "MANIFEST-*"))
	require.NoError(t, err)
	assert.Empty(t, matches)
}

// corruptInPlace rewrites path with same-size content and restores its
// modification time, the way bit rot looks to a size and mtime check.
func corruptInPlace(t *testing.T, path, content string) {
	t.Helper()
	info, err := os.Stat(path)
	require.NoError(t, err)
	require.Len(t, content, int(info.Size()))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	require.NoError(t, os.Chtimes(path, info.ModTime(), info.ModTime()))
}

func TestVerifyCheckReadsEveryFile(t *testing.T) {
	isolate(t)
	root := realTempDir(t)
	photo := filepath.Join(root, "photo.raw")
	writeFile(t, photo, "original bytes")

	_, err := runCLI(t, "verify", "write", root, "--apply")
	require.NoError(t, err)
	// Fill the digest cache with the original content.
	_, err = runCLI(t, "dedupe", root)
	require.NoError(t, err)
	_, err = runCLI(t, "verify", "check", root)
	require.NoError(t, err)

	corruptInPlace(t, photo, "flipped bytes!")

	out, err := runCLI(t, "verify", "check", root, "-o", "json")
	require.ErrorIs(t, err, errTreeChanged)
	var rep struct {
		Diff struct {
			Modified []struct {
				Path string `json:"path"`
			} `json:"modified"`
		} `json:"diff"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &rep))
	require.Len(t, rep.Diff.Modified, 1)
	assert.Equal(t, "photo.raw", rep.Diff.Modified[0].Path)
}

func TestVerifyCheckUnreadableIsSkipNotRemoved(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("root can read any file")
	}
	isolate(t)
	root := realTempDir(t)
	locked := filepath.Join(root, "locked.txt")
	writeFile(t, locked, "secret")
	writeFile(t, filepath.Join(root, "open.txt"), "public")

	_, err := runCLI(t, "verify", "write", root, "--apply")
	require.NoError(t, err)
	require.NoError(t, os.Chmod(locked, 0o000))
	t.Cleanup(func() { _ = os.Chmod(locked, 0o644) })

	out, err := runCLI(t, "verify", "check", root, "-o", "json")
	require.NoError(t, err)
	var rep struct {
		Skipped []struct {
			Path string `json:"path"`
		} `json:"skipped"`
		Diff struct {
			Removed []json.RawMessage `json:"removed"`
		} `json:"diff"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &rep))
	assert.Empty(t, rep.Diff.Removed)
	require.Len(t, rep.Skipped, 1)
	assert.Equal(t, locked, rep.Skipped[0].Path)
}

func TestVerifyCheckWithoutManifest(t *testing.T) {
	isolate(t)
	_, err := runCLI(t, "verify", "check", t.TempDir())
	assert.Error(t, err)
}

func TestRenameApply(t *testing.T) {
	isolate(t)
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "photo.JPG"), "img")

	_, err := runCLI(t, "rename", root, "--template", "{stem}-x{ext}", "-o", "plain")
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(root, "photo.JPG"), "dry run must not rename")

	_, err = runCLI(t, "rename", root, "--template", "{stem}-x{ext}", "--apply", "-o", "plain")
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(root, "photo-x.jpg"))
	assert.NoFileExists(t, filepath.Join(root, "photo.JPG"))
}

func TestRenameExportImport(t *testing.T) {
	isolate(t)
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "notes.txt"), "n")
	csvPath := filepath.Join(t.TempDir(), "plan.csv")

	_, err := runCLI(t, "rename", root, "--template", "{stem} v2{ext}", "--export", csvPath)
	require.NoError(t, err)
	data, err := os.ReadFile(csvPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "old_path,new_name")
	assert.Contains(t, string(data), "notes v2.txt")

	edited := strings.ReplaceAll(string(data), "notes v2.txt", "final.txt")
	require.NoError(t, os.WriteFile(csvPath, []byte(edited), 0o644))

	_, err = runCLI(t, "rename", "--import", csvPath, "--apply", "-o", "plain")
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(root, "final.txt"))
}

func TestRenameInvalidTemplate(t *testing.T) {
	isolate(t)
	_, err := runCLI(t, "rename", t.TempDir(), "--template", "{nope}")
	assert.Error(t, err)
}

func TestOrganizeByExt(t *testing.T) {
	isolate(t)
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "notes.TXT"), "n")
	writeFile(t, filepath.Join(root, "README"), "r")

	_, err := runCLI(t, "organize", root, "--by", "ext", "--apply", "-o", "plain")
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(root, "Organized", "txt", "notes.TXT"))
	assert.FileExists(t, filepath.Join(root, "Organized", "noext", "README"))
}

func TestMirror(t *testing.T) {
	isolate(t)
	src := realTempDir(t)
	dst := realTempDir(t)
	writeFile(t, filepath.Join(src, "a.txt"), "alpha")
	writeFile(t, filepath.Join(src, "docs", "b.txt"), "bravo")
	writeFile(t, filepath.Join(dst, "stale.txt"), "old")

	_, err := runCLI(t, "mirror", src, dst)
	require.NoError(t, err)
	assert.NoFileExists(t, filepath.Join(dst, "a.txt"), "dry run copies nothing")

	_, err = runCLI(t, "mirror", src, dst, "--apply")
	require.NoError(t, err)
	got, err := os.ReadFile(filepath.Join(dst, "docs", "b.txt"))
	require.NoError(t, err)
	assert.Equal(t, "bravo", string(got))
	assert.FileExists(t, filepath.Join(dst, "stale.txt"), "extraneous files stay without --delete")

	out, err := runCLI(t, "mirror", src, dst, "--delete", "--apply", "-o", "json")
	require.NoError(t, err)
	var rep struct {
		Apply struct {
			Summary struct {
				Done int `json:"done"`
			} `json:"summary"`
		} `json:"apply"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &rep))
	assert.Equal(t, 1, rep.Apply.Summary.Done, "only the stale file is left to handle")
	assert.NoFileExists(t, filepath.Join(dst, "stale.txt"))
	assert.FileExists(t, filepath.Join(src, "a.txt"))
}

func TestMirrorRejectsBadTargets(t *testing.T) {
	home := isolate(t)
	src := realTempDir(t)
	writeFile(t, filepath.Join(src, "a.txt"), "alpha")

	_, err := runCLI(t, "mirror", src, src)
	require.ErrorIs(t, err, errOverlappingRoots)

	nested := filepath.Join(src, "backup")
	require.NoError(t, os.MkdirAll(nested, 0o755))
	_, err = runCLI(t, "mirror", src, nested)
	require.ErrorIs(t, err, errOverlappingRoots)

	allowed := realTempDir(t)
	elsewhere := realTempDir(t)
	cfgPath := filepath.Join(home, "mirror.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("roots:\n  - "+allowed+"\n"), 0o644))

	_, err = runCLI(t, "--config", cfgPath, "mirror", src, elsewhere)
	require.ErrorIs(t, err, errOutsideRoots)
	_, err = runCLI(t, "--config", cfgPath, "mirror", src, allowed)
	require.NoError(t, err)
}

func TestClean(t *testing.T) {
	isolate(t)
	root := t.TempDir()
	writeFile(t, filepath.Join(root, ".DS_Store"), "junk")
	writeFile(t, filepath.Join(root, "only-junk", "Thumbs.db"), "junk")
	writeFile(t, filepath.Join(root, "keep", "file.txt"), "keep")
	writeFile(t, filepath.Join(root, ".git", ".DS_Store"), "protected")

	out, err := runCLI(t, "clean", root, "-o", "paths")
	require.NoError(t, err)
	assert.Contains(t, out, filepath.Join(root, ".DS_Store"))
	assert.FileExists(t, filepath.Join(root, ".DS_Store"))

	_, err = runCLI(t, "clean", root, "--apply", "-o", "plain")
	require.NoError(t, err)
	assert.NoFileExists(t, filepath.Join(root, ".DS_Store"))
	assert.NoDirExists(t, filepath.Join(root, "only-junk"))
	assert.FileExists(t, filepath.Join(root, "keep", "file.txt"))
	assert.FileExists(t, filepath.Join(root, ".git", ".DS_Store"))
}

func TestConfigInitAndShow(t *testing.T) {
	isolate(t)
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")

	_, err := runCLI(t, "--config", cfgPath, "config", "init")
	require.NoError(t, err)
	assert.FileExists(t, cfgPath)

	out, err := runCLI(t, "--config", cfgPath, "config", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "algorithm: blake2b")
	assert.Contains(t, out, cfgPath)
}

func TestOutputTemplateRequiresFormat(t *testing.T) {
	isolate(t)
	_, err := runCLI(t, "scan", t.TempDir(), "-o", "template")
	assert.ErrorContains(t, err, "--format")

	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a.txt"), "abc")
	out, err := runCLI(t, "scan", root, "-o", "template", "--format", "{{range .Files}}{{.Path}}={{.Size}}\n{{end}}")
	require.NoError(t, err)
	assert.Equal(t, "a.txt=3\n", out)
}

func TestVersion(t *testing.T) {
	out, err := runCLI(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "syncstage dev")
}
