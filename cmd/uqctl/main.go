package main

import (
	"context"
	"os"

	"github.com/grpc-ecosystem/go-grpc-middleware/logging/logrus/ctxlogrus"
	log "github.com/sirupsen/logrus"

	"github.com/uqdispatch/uqdispatch/cmd/uqctl/cmd"
	"github.com/uqdispatch/uqdispatch/internal/common/logging"
)

func main() {
	if err := logging.ConfigureLogging(logging.Config{Format: "cli"}, nil); err != nil {
		log.Fatal(err)
	}
	entry := log.NewEntry(log.StandardLogger())
	ctx := ctxlogrus.ToContext(context.Background(), entry)
	if err := cmd.RootCmd().ExecuteContext(ctx); err != nil {
		logging.WithStacktrace(entry, err).Error("uqctl failed")
		os.Exit(1)
	}
}
