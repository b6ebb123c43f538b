package main

import (
	"context"
	"fmt"
	"os"

	"github.com/nhle/azdo-connector/internal/app"
)

func main() {
	if err := app.New().Execute(context.Background(), os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
