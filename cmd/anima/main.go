// Command anima is a local, multi-account password vault.
package main

import (
	"context"
	"os"
	"os/signal"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	closeApp()
	if err != nil {
		printError(err)
		os.Exit(1)
	}
}
