package main

import (
	"fmt"
	"os"

	"github.com/gdamore/tcell/v2"

	enginepkg "github.com/kk-code-lab/rview/internal/engine"
	pagerui "github.com/kk-code-lab/rview/internal/ui/pager"
)

func printHelp() {
	fmt.Print(`rview - Large-file viewer

USAGE:
    rview [OPTIONS] FILE

OPTIONS:
    -h, --help              Show this help message and exit
        --index FILE        Index FILE and print its line count (no UI)
        --search PATTERN FILE
                            Print the first line matching PATTERN (no UI)
        --fuzzy             With --search, enable fuzzy query expansion

KEYS:
    arrows/PgUp/PgDn/Home/End   scroll
    m                           toggle text/hex mode
    e                           cycle encoding
    /                           incremental search (Enter commit, Esc cancel)
    n / N                       next / previous match
    g                           go to line
    q                           quit
`)
}

func main() {
	tcell.SetEncodingFallback(tcell.EncodingFallbackUTF8)

	args := os.Args[1:]
	fuzzy := false
	var rest []string
	for _, arg := range args {
		switch arg {
		case "-h", "--help":
			printHelp()
			os.Exit(0)
		case "--fuzzy":
			fuzzy = true
		default:
			rest = append(rest, arg)
		}
	}

	if len(rest) >= 2 && rest[0] == "--index" {
		os.Exit(runIndex(rest[1]))
	}
	if len(rest) >= 3 && rest[0] == "--search" {
		os.Exit(runSearch(rest[1], rest[2], fuzzy))
	}
	if len(rest) != 1 {
		printHelp()
		os.Exit(2)
	}

	eng, err := enginepkg.Open(rest[0])
	if err != nil {
		fmt.Fprintf(os.Stderr, "rview: %v\n", err)
		os.Exit(1)
	}
	defer eng.Close()

	view, err := pagerui.New(eng)
	if err != nil {
		fmt.Fprintf(os.Stderr, "rview: %v\n", err)
		os.Exit(1)
	}
	view.Run()
}

func runIndex(path string) int {
	eng, err := enginepkg.Open(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "rview: %v\n", err)
		return 1
	}
	defer eng.Close()

	if !waitForIndex(eng) {
		fmt.Fprintln(os.Stderr, "rview: indexing did not complete")
		return 1
	}
	fmt.Println(eng.LineCount())
	return 0
}

func runSearch(pattern, path string, fuzzy bool) int {
	eng, err := enginepkg.Open(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "rview: %v\n", err)
		return 1
	}
	defer eng.Close()

	if !waitForIndex(eng) {
		fmt.Fprintln(os.Stderr, "rview: indexing did not complete")
		return 1
	}

	done := make(chan enginepkg.SearchResult, 1)
	eng.FindNextAsync(pattern, -1, false, fuzzy, func(res enginepkg.SearchResult) {
		done <- res
	})
	res := <-done
	if !res.Found {
		fmt.Println("no match")
		return 1
	}
	fmt.Println(res.Line + 1)
	return 0
}

func waitForIndex(eng *enginepkg.LargeFileEngine) bool {
	done := make(chan struct{}, 1)
	eng.OnIndexingCompleted(func() {
		select {
		case done <- struct{}{}:
		default:
		}
	})
	if eng.IndexComplete() {
		return true
	}
	<-done
	return eng.IndexComplete()
}
