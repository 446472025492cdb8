// Package common has flags and setup shared by commands that talk to the catalog.
package common

import (
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/sagan/genmeta/config"
	"github.com/sagan/genmeta/constants"
	"github.com/sagan/genmeta/features/catalog"
	"github.com/sagan/genmeta/features/genmeta"
)

// CatalogFlags are the catalog connection flags. Empty / negative values fall back to config (env).
type CatalogFlags struct {
	ApiKey     string
	CatalogUrl string
	Delay      time.Duration
}

func (f *CatalogFlags) Register(command *cobra.Command) {
	command.Flags().StringVarP(&f.ApiKey, "api-key", "", "", constants.HELP_API_KEY)
	command.Flags().StringVarP(&f.CatalogUrl, "catalog-url", "", "", constants.HELP_CATALOG_URL)
	command.Flags().DurationVarP(&f.Delay, "delay", "", -1, constants.HELP_DELAY)
}

func (f *CatalogFlags) NewClient() *catalog.CivitaiClient {
	apiKey := f.ApiKey
	if apiKey == "" {
		apiKey = config.GetApiKey()
	}
	url := f.CatalogUrl
	if url == "" {
		url = config.GetCatalogUrl()
	}
	return catalog.NewCivitaiClient(url, apiKey, config.GetTimeout())
}

// NewResolver returns a resolver over a fresh cache, shared by every image the command processes.
func (f *CatalogFlags) NewResolver() *catalog.Resolver {
	delay := f.Delay
	if delay < 0 {
		delay = config.GetLookupDelay()
	}
	client := f.NewClient()
	log.Debugf("catalog: %s, delay between lookups: %v", client.BaseUrl, delay)
	return catalog.NewResolver(client, catalog.NewCache(), delay)
}

func (f *CatalogFlags) NewEngine() *genmeta.Engine {
	return genmeta.NewEngine(f.NewResolver())
}
