package main

import (
	"fmt"
	"os"
	"strings"
)

type palette struct {
	Reset, Bold, Dim, Red, Green, Yellow, Cyan string
}

// c is empty when stdout is not a terminal or NO_COLOR is set.
var c = newPalette()

func newPalette() palette {
	if os.Getenv("NO_COLOR") != "" {
		return palette{}
	}
	info, err := os.Stdout.Stat()
	if err != nil || info.Mode()&os.ModeCharDevice == 0 {
		return palette{}
	}
	return palette{
		Reset:  "\033[0m",
		Bold:   "\033[1m",
		Dim:    "\033[2m",
		Red:    "\033[31m",
		Green:  "\033[32m",
		Yellow: "\033[33m",
		Cyan:   "\033[36m",
	}
}

func printSection(title string) {
	fmt.Println()
	fmt.Printf("%s%s%s\n", c.Bold, title, c.Reset)
	fmt.Println(strings.Repeat("-", len(title)))
}

func printField(name string, value any) {
	fmt.Printf("  %s%-16s%s %v\n", c.Dim, name, c.Reset, value)
}

func printError(msg string) {
	fmt.Fprintf(os.Stderr, "%sError%s: %s\n", c.Red, c.Reset, msg)
}

func printOK(msg string) {
	fmt.Printf("%s%s%s\n", c.Green, msg, c.Reset)
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}
