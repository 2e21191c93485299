// @title           Medfolio API
// @version         1.0
// @description     Doctor profiles and visitor recommendations.
// @BasePath        /api/v1
//
// @securityDefinitions.apikey AdminToken
// @in                         header
// @name                       X-Admin-Token
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/tbourn/medfolio-backend/internal/cli"
)

// version is set at build time via -ldflags "-X main.version=v1.0.0".
var version = "dev"

func main() {
	if err := cli.New(version).ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "medfolio: %v\n", err)
		os.Exit(1)
	}
}
