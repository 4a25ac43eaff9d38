package main

import (
	"context"

	"github.com/mflow/mflow/internal/app"
	"github.com/mflow/mflow/internal/pipeline"
	"github.com/mflow/mflow/pkg/shell"
)

func main() {
	app.Init() // init config and logs

	pipeline.Init()

	ctx, cancel := shell.SignalContext(context.Background())
	defer cancel()

	if err := pipeline.Run(ctx); err != nil {
		app.Logger.Error().Err(err).Send()
	}
}
