package cmd

import (
	"context"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jaffee/commandeer"
	"github.com/spf13/cobra"
	"github.com/windycity/cabs/usecase/windycity"
)

type stage struct {
	short string
	run   func(m *windycity.Main, ctx context.Context) error
}

var stages = map[string]stage{
	"run": {
		short: "fetch the next window from the API, land it and load it",
		run:   (*windycity.Main).Run,
	},
	"ingest": {
		short: "fetch the next window from the API and land it as raw partitions",
		run:   (*windycity.Main).Ingest,
	},
	"stage": {
		short: "deduplicate recent raw partitions into parquet snapshots",
		run:   (*windycity.Main).Stage,
	},
	"load": {
		short: "upsert recent raw partitions into the staged trips store",
		run:   (*windycity.Main).Load,
	},
	"transform": {
		short: "rebuild the marts from the staged trips",
		run:   (*windycity.Main).Transform,
	},
	"export": {
		short: "write the marts as CSV files",
		run:   (*windycity.Main).Export,
	},
}

// StageMain is the Main of the most recently built stage command. It is only
// exported for testing purposes.
var StageMain *windycity.Main

// newStageCommand returns a command running the named stage. Interrupting it
// cancels the stage, which then exits without advancing any watermark.
func newStageCommand(name string, s stage) func(stdin io.Reader, stdout, stderr io.Writer) *cobra.Command {
	return func(stdin io.Reader, stdout, stderr io.Writer) *cobra.Command {
		m := windycity.NewMain()
		m.SetOutput(stderr)
		StageMain = m
		com := &cobra.Command{
			Use:   name,
			Short: name + " - " + s.short,
			RunE: func(cmd *cobra.Command, args []string) error {
				ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
				defer cancel()
				start := time.Now()
				if err := s.run(m, ctx); err != nil {
					return err
				}
				cmd.Printf("Done: %s\n", time.Since(start))
				return nil
			},
		}
		com.SetOutput(stdout)
		if err := commandeer.Flags(com.Flags(), m); err != nil {
			panic(err)
		}
		return com
	}
}

func init() {
	for name, s := range stages {
		subcommandFns[name] = newStageCommand(name, s)
	}
}
