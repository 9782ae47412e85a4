package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/adrg/xdg"
	"github.com/mandelsoft/vfs/pkg/osfs"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"

	"go.hackfix.me/multimig/app"
	aerrors "go.hackfix.me/multimig/app/errors"
)

func main() {
	configFilePath, err := xdg.ConfigFile(filepath.Join("multimig", "config.json"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed resolving configuration file path: %s\n", err)
		os.Exit(1)
	}

	a, err := app.New("multimig", configFilePath,
		app.WithFDs(
			os.Stdin,
			colorable.NewColorable(os.Stdout),
			colorable.NewColorable(os.Stderr),
		),
		app.WithFS(osfs.New()),
		app.WithLogger(isatty.IsTerminal(os.Stderr.Fd())),
	)
	if err != nil {
		aerrors.Log(slog.Default(), err)
		os.Exit(1)
	}
	if err = a.Run(os.Args[1:]); err != nil {
		aerrors.Log(a.Logger(), err)
		os.Exit(1)
	}
}
