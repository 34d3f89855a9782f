package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"

	"rewardledger/cmd/internal/simulation"
)

type menuItem struct {
	key   byte
	label string
	run   func(ctx context.Context, c *cli) error
}

var menuItems = []menuItem{
	{'1', "Run all attack simulations", func(ctx context.Context, c *cli) error {
		results, err := c.runAttacks(ctx, "all")
		if err != nil {
			return err
		}
		return c.report(results, false)
	}},
	{'2', "Malicious revert DoS", attackItem("revert")},
	{'3', "Gas griefing", attackItem("gas-grief")},
	{'4', "Reentrancy", attackItem("reentrancy")},
	{'5', "Large recipient list (200)", attackItem("large-list")},
	{'6', "Distribute to 10 random recipients", func(ctx context.Context, c *cli) error {
		res, err := simulation.Distribute(ctx, 10, c.opts...)
		if err != nil {
			return err
		}
		return c.report([]simulation.Result{res}, false)
	}},
	{'7', "Cost comparison (10, 50, 100, 200)", func(ctx context.Context, c *cli) error {
		return c.bench(ctx, []string{"--sizes", "10,50,100,200"})
	}},
}

func attackItem(name string) func(context.Context, *cli) error {
	return func(ctx context.Context, c *cli) error {
		results, err := c.runAttacks(ctx, name)
		if err != nil {
			return err
		}
		return c.report(results, false)
	}
}

func printMenu(w io.Writer) {
	fmt.Fprintln(w, "\n========================================")
	fmt.Fprintln(w, "        REWARD LEDGER TEST MENU")
	fmt.Fprintln(w, "========================================")
	for _, item := range menuItems {
		fmt.Fprintf(w, "%c. %s\n", item.key, item.label)
	}
	fmt.Fprintln(w, "0. Exit")
	fmt.Fprintln(w, "========================================")
	fmt.Fprintln(w, "Press number key to select option...")
}

// menu reads single keypresses when stdin is a terminal and whole lines
// otherwise.
func (c *cli) menu(ctx context.Context) error {
	var next func() (byte, error)
	if f, ok := c.stdin.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		fd := int(f.Fd())
		next = func() (byte, error) { return readKey(fd, f) }
	} else {
		lines := bufio.NewScanner(c.stdin)
		next = func() (byte, error) {
			if !lines.Scan() {
				if err := lines.Err(); err != nil {
					return 0, err
				}
				return '0', nil
			}
			line := strings.TrimSpace(lines.Text())
			if line == "" {
				return ' ', nil
			}
			return line[0], nil
		}
	}

	for {
		printMenu(c.stdout)
		key, err := next()
		if err != nil {
			return err
		}
		switch key {
		case '0', 'q', 3: // 3 is Ctrl+C in raw mode
			fmt.Fprintln(c.stdout, "Exiting...")
			return nil
		}
		item, ok := lookupMenu(key)
		if !ok {
			continue
		}
		fmt.Fprintf(c.stdout, "\n> %s\n\n", item.label)
		if err := item.run(ctx, c); err != nil {
			fmt.Fprintf(c.stdout, "error: %v\n", err)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

func lookupMenu(key byte) (menuItem, bool) {
	for _, item := range menuItems {
		if item.key == key {
			return item, true
		}
	}
	return menuItem{}, false
}

// readKey puts the terminal in raw mode for exactly one keypress so the
// selected action prints normally.
func readKey(fd int, r io.Reader) (byte, error) {
	state, err := term.MakeRaw(fd)
	if err != nil {
		return 0, err
	}
	defer term.Restore(fd, state)
	buf := make([]byte, 1)
	if _, err := io.ReadFull(r, buf); err != nil {
		return 0, err
	}
	return buf[0], nil
}
