// Package menu implements the interactive console menu.
//
// Options form a closed set: ScrapeOption, QueryOption and ExitOption. Menu.Run reads a
// number, dispatches the chosen option to a Handler, and loops until ExitOption or end of
// input. Handler errors are reported and the loop continues.
package menu

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/vmoraes/event-harvester/internal/logger"
)

// Query names one of the stored-data reports.
type Query int

const (
	QueryAllEvents Query = iota
	QueryUpcoming
	QueryInRio
	QueryFree
	QueryMetadata
)

// Option is one menu entry. The set of implementations is closed.
type Option interface {
	Label() string
	sealed()
}

type ScrapeOption struct{}

func (ScrapeOption) Label() string { return "Run scraper" }
func (ScrapeOption) sealed()       {}

type QueryOption struct {
	Query Query
}

func (o QueryOption) Label() string {
	switch o.Query {
	case QueryAllEvents:
		return "(QUERY) Show all events"
	case QueryUpcoming:
		return "(QUERY) Show the next 2 events"
	case QueryInRio:
		return "(QUERY) Show events in Rio de Janeiro"
	case QueryFree:
		return "(QUERY) Show free events"
	case QueryMetadata:
		return "(QUERY) Show metadata per event"
	default:
		return fmt.Sprintf("(QUERY) #%d", int(o.Query))
	}
}
func (QueryOption) sealed() {}

type ExitOption struct{}

func (ExitOption) Label() string { return "Exit" }
func (ExitOption) sealed()       {}

// Handler performs the work behind the options.
type Handler interface {
	Scrape(ctx context.Context) error
	Query(ctx context.Context, q Query) error
}

// DefaultOptions is the standard menu.
func DefaultOptions() []Option {
	return []Option{
		ScrapeOption{},
		QueryOption{Query: QueryAllEvents},
		QueryOption{Query: QueryUpcoming},
		QueryOption{Query: QueryInRio},
		QueryOption{Query: QueryFree},
		QueryOption{Query: QueryMetadata},
		ExitOption{},
	}
}

// Menu is an interactive console menu.
type Menu struct {
	options []Option
	handler Handler
	in      *bufio.Scanner
	out     io.Writer
	log     *logger.Logger
}

// New creates a menu reading choices from in and printing to out.
func New(options []Option, h Handler, in io.Reader, out io.Writer, log *logger.Logger) *Menu {
	return &Menu{
		options: options,
		handler: h,
		in:      bufio.NewScanner(in),
		out:     out,
		log:     log.With(logger.Fields{"component": "menu"}),
	}
}

// Run shows the menu until the user exits, input ends or ctx is cancelled.
func (m *Menu) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		m.print()
		fmt.Fprint(m.out, "Select an option: ")
		if !m.in.Scan() {
			fmt.Fprintln(m.out)
			return m.in.Err()
		}

		choice, err := strconv.Atoi(strings.TrimSpace(m.in.Text()))
		if err != nil {
			fmt.Fprintln(m.out, "Invalid input. Please enter the number of an option.")
			continue
		}
		if choice < 1 || choice > len(m.options) {
			fmt.Fprintln(m.out, "Invalid option. Please try again.")
			continue
		}

		opt := m.options[choice-1]
		m.log.Info("Option selected", logger.Fields{"option": opt.Label()})
		if quit := m.dispatch(ctx, opt); quit {
			fmt.Fprintln(m.out, "Goodbye!")
			return nil
		}
	}
}

func (m *Menu) print() {
	fmt.Fprintln(m.out, "\n=== Main menu ===")
	for i, opt := range m.options {
		fmt.Fprintf(m.out, "%d. %s\n", i+1, opt.Label())
	}
	fmt.Fprintln(m.out, "=================")
}

func (m *Menu) dispatch(ctx context.Context, opt Option) (quit bool) {
	var err error
	switch o := opt.(type) {
	case ExitOption:
		return true
	case ScrapeOption:
		err = m.handler.Scrape(ctx)
	case QueryOption:
		err = m.handler.Query(ctx, o.Query)
	}

	if err != nil {
		m.log.Error("Option failed", logger.Fields{"option": opt.Label()}, err)
		fmt.Fprintf(m.out, "Error: %v\n", err)
	}
	return false
}
