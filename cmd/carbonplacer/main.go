package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"k8s.io/klog/v2"

	"github.com/elevated-systems/carbon-placement/cmd/carbonplacer/app"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := app.NewCommand().ExecuteContext(ctx); err != nil {
		klog.ErrorS(err, "Command failed")
		klog.Flush()
		cancel()
		os.Exit(1)
	}
	klog.Flush()
}
