// Command flagsync downloads feature flag configs, evaluates flags from the
// command line and serves the admin API.
package main

import (
	"context"
	"os"

	"github.com/spf13/viper"

	log "github.com/sirupsen/logrus"
)

func main() {
	if err := newRootCmd(viper.New()).ExecuteContext(context.Background()); err != nil {
		log.Error(err)
		os.Exit(1)
	}
}
