// Command berrypoolctl is a small operator CLI for inspecting and
// maintaining berrypool stores: page pool stats, a compressed page
// export for offline inspection, and an archival backup.
package main

import (
	"fmt"
	"os"

	"github.com/alecthomas/kong"

	"berrypool/berrypool"
	"berrypool/cmd/berrypoolctl/internal/archive"
)

var cli struct {
	Stats  StatsCmd  `cmd:"" help:"Print page pool statistics for a store"`
	Export ExportCmd `cmd:"" help:"Export a store's pages as an lz4-compressed stream"`
	Backup BackupCmd `cmd:"" help:"Create an xz-compressed backup archive of a store"`
	Verify VerifyCmd `cmd:"" help:"Verify a store's header checksum"`
}

// StatsCmd prints the current page pool counters for a store.
type StatsCmd struct {
	Store string `arg:"" help:"Path to the store's data file" type:"existingfile"`
}

func (c *StatsCmd) Run() error {
	db := berrypool.Open()
	if _, err := db.OpenStore(c.Store); err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()

	stats := db.Stats()
	fmt.Printf("store: %s\n", c.Store)
	fmt.Printf("  page size:       %s\n", archive.HumanizeBytes(int64(stats.PageSize)))
	fmt.Printf("  allocated pages: %d\n", stats.AllocatedPages)
	fmt.Printf("  unused pages:    %d\n", stats.UnusedPages)
	fmt.Printf("  lru pages:       %d\n", stats.LRUPages)
	fmt.Printf("  pinned pages:    %d\n", stats.PinnedPages)
	return nil
}

// ExportCmd streams pages 1..Pages of a store to an lz4-compressed file,
// for offline inspection with standard lz4 tooling.
type ExportCmd struct {
	Store string `arg:"" help:"Path to the store's data file" type:"existingfile"`
	Out   string `required:"" help:"Output .lz4 path" type:"path"`
	Pages uint64 `required:"" help:"Number of pages to export, starting at page 1"`
}

func (c *ExportCmd) Run() error {
	db := berrypool.Open()
	store, err := db.OpenStore(c.Store)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()

	out, err := os.Create(c.Out)
	if err != nil {
		return fmt.Errorf("create output: %w", err)
	}
	defer out.Close()

	written, err := archive.ExportPagesLZ4(store, c.Pages, out)
	if err != nil {
		return fmt.Errorf("export: %w", err)
	}

	fmt.Printf("exported %d pages (%s) to %s\n", c.Pages, archive.HumanizeBytes(written), c.Out)
	return nil
}

// BackupCmd writes an xz-compressed backup of a store's raw data file.
type BackupCmd struct {
	Store string `arg:"" help:"Path to the store's data file" type:"existingfile"`
	Out   string `required:"" help:"Output .xz path" type:"path"`
}

func (c *BackupCmd) Run() error {
	in, err := os.Open(c.Store)
	if err != nil {
		return fmt.Errorf("open store file: %w", err)
	}
	defer in.Close()

	out, err := os.Create(c.Out)
	if err != nil {
		return fmt.Errorf("create output: %w", err)
	}
	defer out.Close()

	written, err := archive.BackupXZ(in, out)
	if err != nil {
		return fmt.Errorf("backup: %w", err)
	}

	fmt.Printf("backed up %s to %s\n", archive.HumanizeBytes(written), c.Out)
	return nil
}

// VerifyCmd checks a store's header checksum.
type VerifyCmd struct {
	Store string `arg:"" help:"Path to the store's data file" type:"existingfile"`
}

func (c *VerifyCmd) Run() error {
	f, err := os.Open(c.Store)
	if err != nil {
		return fmt.Errorf("open store file: %w", err)
	}
	defer f.Close()

	ok, err := archive.VerifyHeader(f)
	if err != nil {
		return fmt.Errorf("verify: %w", err)
	}
	if !ok {
		fmt.Println("FAIL: header checksum mismatch")
		return fmt.Errorf("checksum mismatch")
	}
	fmt.Println("OK: header checksum valid")
	return nil
}

func main() {
	ctx := kong.Parse(&cli,
		kong.Name("berrypoolctl"),
		kong.Description("Inspect and maintain berrypool stores."),
		kong.Writers(os.Stdout, os.Stderr),
	)
	if err := ctx.Run(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
