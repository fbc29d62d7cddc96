package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/vmoraes/event-harvester/internal/api"
	"github.com/vmoraes/event-harvester/internal/archive"
	"github.com/vmoraes/event-harvester/internal/calendar"
	"github.com/vmoraes/event-harvester/internal/crawler"
	"github.com/vmoraes/event-harvester/internal/event"
	"github.com/vmoraes/event-harvester/internal/extractor"
	"github.com/vmoraes/event-harvester/internal/fetcher"
	"github.com/vmoraes/event-harvester/internal/ingest"
	"github.com/vmoraes/event-harvester/internal/logger"
	"github.com/vmoraes/event-harvester/internal/menu"
	"github.com/vmoraes/event-harvester/internal/notifier"
	"github.com/vmoraes/event-harvester/internal/store"
)

const (
	defaultUpcomingLimit = 2
	defaultLocation      = "Rio de Janeiro"
)

func (a *app) scrapeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "scrape",
		Short: "Fetch the events page and weekly batches and store what they describe",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			summary, err := a.scrape(cmd.Context())
			if err != nil {
				return err
			}
			return WriteSummary(a.streams.Out, summary, a.format)
		},
	}
}

// scrape wires one crawler run from the configuration.
func (a *app) scrape(ctx context.Context) (crawler.Summary, error) {
	if err := a.cfg.RequireTarget(); err != nil {
		return crawler.Summary{}, err
	}

	f, err := fetcher.New(fetcher.Options{
		BaseURL:   a.cfg.TargetURL,
		UserAgent: fetcher.UserAgent(a.cfg.AppName, a.cfg.Environment, a.cfg.TargetURL),
		Timeout:   a.cfg.HTTPTimeout,
	}, a.log)
	if err != nil {
		return crawler.Summary{}, fmt.Errorf("creating fetcher: %w", err)
	}

	s, err := a.openStore(ctx)
	if err != nil {
		f.Close()
		return crawler.Summary{}, err
	}

	arch, err := archive.New(ctx, archive.Config{
		Endpoint:  a.cfg.Archive.Endpoint,
		Bucket:    a.cfg.Archive.Bucket,
		AccessKey: a.cfg.Archive.AccessKey,
		SecretKey: a.cfg.Archive.SecretKey,
		UseSSL:    a.cfg.Archive.UseSSL,
	}, a.log)
	if err != nil {
		a.log.Warn("Archive unavailable, payloads will not be kept", logger.Fields{"error": err.Error()})
		arch = archive.Noop{}
	}

	n := a.newNotifier()
	defer n.Close()

	driver := crawler.New(crawler.Deps{
		Fetcher:   f,
		Extractor: extractor.New(a.log, a.metrics),
		Ingest:    ingest.New(s, a.log, a.metrics),
		Store:     s,
		Archive:   arch,
		Notifier:  n,
		Metrics:   a.metrics,
	}, crawler.Config{
		BatchDates:    a.cfg.BatchDates,
		BatchInterval: a.cfg.BatchInterval,
	}, a.log)

	summary, runErr := driver.Run(ctx)

	if a.cfg.MetricsFile != "" {
		if err := a.metrics.WriteFile(a.cfg.MetricsFile); err != nil {
			a.log.Warn("Writing metrics file failed", logger.Fields{"path": a.cfg.MetricsFile, "error": err.Error()})
		}
	}
	return summary, runErr
}

func (a *app) newNotifier() notifier.Notifier {
	if a.cfg.AMQP.URL == "" {
		return notifier.NewLogNotifier(a.log)
	}
	n, err := notifier.NewAMQPNotifier(a.cfg.AMQP.URL, a.cfg.AMQP.Queue, a.log)
	if err != nil {
		a.log.Warn("Broker unavailable, falling back to log notifications", logger.Fields{"error": err.Error()})
		return notifier.NewLogNotifier(a.log)
	}
	return n
}

// listing prints the result of one Reader query.
func (a *app) listing(ctx context.Context, title, empty string, query func(store.Reader) []store.Listing) error {
	return a.withReader(ctx, func(r store.Reader) error {
		events := query(r)
		sortListings(events, a.sort)
		return WriteListings(a.streams.Out, &ListingResult{
			Title:     title,
			CheckedAt: a.now().UTC(),
			Events:    events,
			Count:     len(events),
			Empty:     empty,
		}, a.format)
	})
}

func (a *app) eventsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "events",
		Short: "List every stored event occurrence",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.showAll(cmd.Context())
		},
	}
}

func (a *app) showAll(ctx context.Context) error {
	return a.listing(ctx, "All events", "No events found.", func(r store.Reader) []store.Listing {
		return r.AllEvents(ctx)
	})
}

func (a *app) upcomingCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "upcoming",
		Short: "List the next occurrences from today on",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if limit < 1 {
				return fmt.Errorf("--limit must be at least 1")
			}
			return a.showUpcoming(cmd.Context(), limit)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", defaultUpcomingLimit, "Maximum number of occurrences")
	return cmd
}

func (a *app) showUpcoming(ctx context.Context, limit int) error {
	title := fmt.Sprintf("Next %d events", limit)
	return a.listing(ctx, title, "No upcoming events found.", func(r store.Reader) []store.Listing {
		return r.Upcoming(ctx, limit)
	})
}

func (a *app) locationCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "location [text]",
		Short: "List occurrences whose location contains text (default: Rio de Janeiro)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text := defaultLocation
			if len(args) == 1 {
				text = args[0]
			}
			return a.showLocation(cmd.Context(), text)
		},
	}
}

func (a *app) showLocation(ctx context.Context, text string) error {
	return a.listing(ctx, "Events in "+text, "No events found in "+text+".", func(r store.Reader) []store.Listing {
		return r.ByLocation(ctx, text)
	})
}

func (a *app) withMetadataCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "with-metadata <key> <value>",
		Short: "List occurrences of events whose metadata key equals value",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !event.IsMetadataKey(args[0]) {
				return fmt.Errorf("unknown metadata key %q (allowed: price, priceCurrency, availability, image, url)", args[0])
			}
			return a.showWithMetadata(cmd.Context(), args[0], args[1])
		},
	}
}

func (a *app) showWithMetadata(ctx context.Context, key, value string) error {
	title := fmt.Sprintf("Events with %s = %s", key, value)
	return a.listing(ctx, title, "No matching events found.", func(r store.Reader) []store.Listing {
		return r.WithMetadata(ctx, key, value)
	})
}

// showFree lists occurrences of events whose price is numerically zero, so "0" and
// "0.00" both count.
func (a *app) showFree(ctx context.Context) error {
	return a.listing(ctx, "Free events", "No free events found.", func(r store.Reader) []store.Listing {
		return freeListings(r.AllEvents(ctx), r.MetadataByEvent(ctx))
	})
}

func freeListings(listings []store.Listing, meta map[string]map[string]string) []store.Listing {
	free := make([]store.Listing, 0, len(listings))
	for _, l := range listings {
		price, ok := meta[l.Name][string(event.KeyPrice)]
		if !ok {
			continue
		}
		if v, err := strconv.ParseFloat(strings.TrimSpace(price), 64); err == nil && v == 0 {
			free = append(free, l)
		}
	}
	return free
}

func (a *app) metadataCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "metadata",
		Short: "Show the metadata of every event",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.showMetadata(cmd.Context())
		},
	}
}

func (a *app) showMetadata(ctx context.Context) error {
	return a.withReader(ctx, func(r store.Reader) error {
		return WriteMetadata(a.streams.Out, r.MetadataByEvent(ctx), a.format)
	})
}

func (a *app) deleteEventCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete-event <name>",
		Short: "Delete an event together with its occurrences and metadata",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			defer s.Close()

			if err := s.DeleteEvent(ctx, args[0]); err != nil {
				if errors.Is(err, store.ErrNotFound) {
					return fmt.Errorf("no event named %q", args[0])
				}
				return err
			}
			fmt.Fprintf(a.streams.Out, "Deleted %q.\n", args[0])
			return nil
		},
	}
}

func (a *app) calendarCmd() *cobra.Command {
	var output, name string
	cmd := &cobra.Command{
		Use:   "calendar",
		Short: "Export every stored occurrence as an iCalendar file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			return a.withReader(ctx, func(r store.Reader) error {
				ics := calendar.GenerateICS(r.AllEvents(ctx), name, a.now())
				if output == "" || output == "-" {
					_, err := io.WriteString(a.streams.Out, ics)
					return err
				}
				if err := os.WriteFile(output, []byte(ics), 0644); err != nil {
					return fmt.Errorf("writing calendar: %w", err)
				}
				a.log.Info("Calendar written", logger.Fields{"path": output})
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "Output file (default stdout)")
	cmd.Flags().StringVar(&name, "name", "Events", "Calendar name")
	return cmd
}

func (a *app) serveCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the stored events over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			s, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			defer s.Close()

			opts := api.Options{
				Reader:       s,
				Metrics:      a.metrics,
				CacheTTL:     a.cfg.Redis.TTL,
				CalendarName: a.cfg.AppName,
			}
			if a.cfg.Redis.Addr != "" {
				cache, err := api.NewRedisCache(ctx, api.RedisOptions{
					Addr:     a.cfg.Redis.Addr,
					Password: a.cfg.Redis.Password,
					DB:       a.cfg.Redis.DB,
				})
				if err != nil {
					a.log.Warn("Response cache disabled", logger.Fields{"error": err.Error()})
				} else {
					defer cache.Close()
					opts.Cache = cache
				}
			}

			if !cmd.Flags().Changed("listen") {
				addr = a.cfg.ListenAddr
			}
			return api.New(opts, a.log).Start(ctx, addr)
		},
	}
	cmd.Flags().StringVar(&addr, "listen", ":8080", "Listen address (overrides LISTEN_ADDR)")
	return cmd
}

func (a *app) menuCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "menu",
		Short: "Open the interactive menu",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			m := menu.New(menu.DefaultOptions(), menuHandler{a}, a.streams.In, a.streams.Out, a.log)
			return m.Run(cmd.Context())
		},
	}
}

// menuHandler runs menu choices through the same code paths as the subcommands.
type menuHandler struct {
	a *app
}

func (h menuHandler) Scrape(ctx context.Context) error {
	summary, err := h.a.scrape(ctx)
	if err != nil {
		return err
	}
	return WriteSummary(h.a.streams.Out, summary, h.a.format)
}

func (h menuHandler) Query(ctx context.Context, q menu.Query) error {
	switch q {
	case menu.QueryAllEvents:
		return h.a.showAll(ctx)
	case menu.QueryUpcoming:
		return h.a.showUpcoming(ctx, defaultUpcomingLimit)
	case menu.QueryInRio:
		return h.a.showLocation(ctx, defaultLocation)
	case menu.QueryFree:
		return h.a.showFree(ctx)
	case menu.QueryMetadata:
		return h.a.showMetadata(ctx)
	default:
		return fmt.Errorf("unknown query %d", q)
	}
}
