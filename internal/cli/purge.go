package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
)

// Execute implements the go-flags Commander interface for PurgeCommand.
func (c *PurgeCommand) Execute(args []string) error {
	if !c.All {
		return fmt.Errorf("purge requires --all flag for safety")
	}

	if err := c.confirm(); err != nil {
		return err
	}

	a, err := openApp(c.globals)
	if err != nil {
		return err
	}
	defer a.Close()

	return c.executeWithStore(context.Background(), a)
}

// confirm asks for "PURGE" on stdin unless --force.
func (c *PurgeCommand) confirm() error {
	if c.Force {
		return nil
	}
	fmt.Println("⚠ WARNING: This will permanently delete ALL onset data.")
	fmt.Println("  - All records and their signals")
	fmt.Println("  - All markers")
	fmt.Println("  - All detection run history")
	fmt.Println()
	fmt.Println("This action cannot be undone.")
	fmt.Println()
	fmt.Print(`Type "PURGE" to confirm: `)

	var in io.Reader = os.Stdin
	if c.in != nil {
		in = c.in
	}
	scanner := bufio.NewScanner(in)
	if !scanner.Scan() {
		return fmt.Errorf("aborted: no input received")
	}
	if strings.TrimSpace(scanner.Text()) != "PURGE" {
		return fmt.Errorf("aborted: confirmation text did not match")
	}
	return nil
}

// executeWithStore purges a provided app's store (used by tests).
func (c *PurgeCommand) executeWithStore(ctx context.Context, a *app) error {
	if err := a.store.PurgeAll(ctx); err != nil {
		return fmt.Errorf("purge failed: %w", err)
	}

	if c.globals.JSON {
		return printJSON(os.Stdout, map[string]any{
			"purged":  true,
			"message": "all data deleted",
		})
	}

	fmt.Println("Purged all data. Onset is empty.")
	return nil
}
