// Package providers assembles the adapter registry from configuration. Both
// the API process and the sync worker build the same registry so provider
// IDs and priorities line up across processes.
package providers

import (
	"example.com/healthsync/internal/config"
	"example.com/healthsync/internal/credstore"
	"example.com/healthsync/internal/provider"
	"example.com/healthsync/internal/provider/fitbit"
	"example.com/healthsync/internal/provider/garmin"
	"example.com/healthsync/internal/provider/oura"
	"example.com/healthsync/internal/provider/platform"
	"example.com/healthsync/internal/provider/strava"
	"example.com/healthsync/internal/provider/whoop"
)

// Build wires every adapter into a registry. Providers without configured
// app credentials are still registered: connecting them fails at the token
// exchange with a clear error rather than hiding the provider.
func Build(cfg config.Config, creds credstore.Store, samples platform.SampleSource) *provider.Registry {
	registry := provider.NewRegistry()

	registry.Register(strava.New(strava.Config{
		ClientID:     cfg.Strava.ClientID,
		ClientSecret: cfg.Strava.ClientSecret,
		RedirectURI:  cfg.RedirectURI("strava"),
	}, creds))

	registry.Register(whoop.New(whoop.Config{
		ClientID:     cfg.Whoop.ClientID,
		ClientSecret: cfg.Whoop.ClientSecret,
		RedirectURI:  cfg.RedirectURI("whoop"),
	}, creds))

	registry.Register(oura.New(oura.Config{
		ClientID:     cfg.Oura.ClientID,
		ClientSecret: cfg.Oura.ClientSecret,
		RedirectURI:  cfg.RedirectURI("oura"),
	}, creds))

	registry.Register(fitbit.New(fitbit.Config{
		ClientID:     cfg.Fitbit.ClientID,
		ClientSecret: cfg.Fitbit.ClientSecret,
		RedirectURI:  cfg.RedirectURI("fitbit"),
	}, creds))

	registry.Register(garmin.New(garmin.Config{
		ConsumerKey:    cfg.Garmin.ClientID,
		ConsumerSecret: cfg.Garmin.ClientSecret,
		CallbackURL:    cfg.RedirectURI("garmin"),
	}, creds))

	registry.Register(platform.NewAppleHealth(creds, samples))
	registry.Register(platform.NewHealthConnect(creds, samples))

	return registry
}
