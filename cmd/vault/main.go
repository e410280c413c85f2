package main

import (
	"context"
	"os"

	"github.com/vinceanalytics/vault/internal/cmd"
	"github.com/vinceanalytics/vault/internal/logger"
)

func main() {
	err := cmd.App().Run(context.Background(), os.Args)
	if err != nil {
		logger.Fail("Exited process", err)
	}
}
