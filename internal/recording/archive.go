package recording

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
)

// archiveEntry is one file destined for an archive: either in-memory
// data or a path on disk.
type archiveEntry struct {
	name string
	data []byte
	path string
}

// writeArchive builds a zip at dst from the given entries. Directory
// entries are walked and stored under their name prefix in a stable
// order.
func writeArchive(dst string, entries []archiveEntry) error {
	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("create archive: %w", err)
	}
	zw := zip.NewWriter(out)

	fail := func(err error) error {
		_ = zw.Close()
		_ = out.Close()
		_ = os.Remove(dst)
		return err
	}

	for _, entry := range entries {
		switch {
		case entry.data != nil:
			w, err := zw.Create(entry.name)
			if err != nil {
				return fail(fmt.Errorf("archive entry %s: %w", entry.name, err))
			}
			if _, err := w.Write(entry.data); err != nil {
				return fail(fmt.Errorf("archive entry %s: %w", entry.name, err))
			}
		case entry.path != "":
			info, err := os.Stat(entry.path)
			if err != nil {
				return fail(fmt.Errorf("archive source %s: %w", entry.path, err))
			}
			if info.IsDir() {
				if err := addDir(zw, entry.path, entry.name); err != nil {
					return fail(err)
				}
			} else if err := addFile(zw, entry.path, entry.name); err != nil {
				return fail(err)
			}
		}
	}

	if err := zw.Close(); err != nil {
		_ = out.Close()
		_ = os.Remove(dst)
		return fmt.Errorf("finalize archive: %w", err)
	}
	return out.Close()
}

func addFile(zw *zip.Writer, src, name string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open %s: %w", src, err)
	}
	defer in.Close()

	w, err := zw.Create(name)
	if err != nil {
		return fmt.Errorf("archive entry %s: %w", name, err)
	}
	if _, err := io.Copy(w, in); err != nil {
		return fmt.Errorf("archive entry %s: %w", name, err)
	}
	return nil
}

func addDir(zw *zip.Writer, dir, prefix string) error {
	items, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("read %s: %w", dir, err)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Name() < items[j].Name() })

	for _, item := range items {
		src := filepath.Join(dir, item.Name())
		name := prefix + "/" + item.Name()
		if item.IsDir() {
			if err := addDir(zw, src, name); err != nil {
				return err
			}
			continue
		}
		if err := addFile(zw, src, name); err != nil {
			return err
		}
	}
	return nil
}
