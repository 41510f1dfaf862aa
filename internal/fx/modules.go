package fx

import (
	"github.com/rs/zerolog"
	"go.uber.org/fx"

	"github.com/keshavt3/Geoguessr-dashboard/internal/api"
	"github.com/keshavt3/Geoguessr-dashboard/internal/config"
	"github.com/keshavt3/Geoguessr-dashboard/internal/database"
	"github.com/keshavt3/Geoguessr-dashboard/internal/geocode"
	"github.com/keshavt3/Geoguessr-dashboard/internal/logger"
	"github.com/keshavt3/Geoguessr-dashboard/internal/normalize"
	"github.com/keshavt3/Geoguessr-dashboard/internal/repository"
	"github.com/keshavt3/Geoguessr-dashboard/internal/server"
	"github.com/keshavt3/Geoguessr-dashboard/internal/service"
	"github.com/keshavt3/Geoguessr-dashboard/internal/stats"
)

// ProvideGeocoder wraps the offline index in the per-coordinate cache; the
// rest of the application only ever sees the Geocoder interface.
func ProvideGeocoder(logger zerolog.Logger) (geocode.Geocoder, error) {
	offline, err := geocode.NewOffline(logger)
	if err != nil {
		return nil, err
	}
	return geocode.NewCached(offline), nil
}

// ProvideSourceFactory builds upstream clients bound to the session cookie
// each fetch request carries.
func ProvideSourceFactory() service.SourceFactory {
	return func(ncfa string) service.GameSource {
		return api.NewClient(ncfa)
	}
}

var Module = fx.Options(
	fx.Provide(logger.New),
	fx.Provide(config.Load),
	fx.Provide(database.New),
	fx.Provide(ProvideGeocoder),
	// repos, bound to the narrow interfaces the services consume
	fx.Provide(fx.Annotate(repository.NewGameRepository, fx.As(new(service.GameStore)))),
	fx.Provide(fx.Annotate(repository.NewFetchedGameRepository, fx.As(new(service.FetchedStore)))),
	fx.Provide(fx.Annotate(repository.NewStatsRepository,
		fx.As(new(service.StatsStore)),
		fx.As(new(service.StatsReader)),
	)),
	fx.Provide(fx.Annotate(repository.NewUsernameRepository, fx.As(new(service.UsernameStore)))),
	// upstream client factory
	fx.Provide(ProvideSourceFactory),
	// processing
	fx.Provide(normalize.New),
	fx.Provide(stats.NewEngine),
	// svc
	fx.Provide(service.NewFetchService),
	fx.Provide(service.NewStatsService),
	// server
	fx.Provide(server.NewDashboardServer),
)
