package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/charmbracelet/log"
	"github.com/charmbracelet/ssh"
	"github.com/charmbracelet/wish"
	"github.com/charmbracelet/wish/logging"
)

// Console is a read-only SSH status console for operators:
//
//	ssh -p 2222 host            # server status
//	ssh -p 2222 host lobbies    # open lobbies
//	ssh -p 2222 host top        # leaderboard
type Console struct {
	hub     *Hub
	started time.Time
	logger  *log.Logger
}

// NewConsole creates the console for hub
func NewConsole(hub *Hub, started time.Time, logger *log.Logger) *Console {
	return &Console{hub: hub, started: started, logger: logger}
}

// Run serves SSH on addr until ctx is cancelled
func (c *Console) Run(ctx context.Context, addr, hostKeyPath string) error {
	opts := []ssh.Option{
		wish.WithAddress(addr),
		wish.WithMiddleware(
			c.middleware,
			logging.MiddlewareWithLogger(c.logger),
		),
	}
	if hostKeyPath != "" {
		opts = append(opts, wish.WithHostKeyPath(hostKeyPath))
	}
	s, err := wish.NewServer(opts...)
	if err != nil {
		return fmt.Errorf("create ssh server: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		c.logger.Info("ssh console listening", "addr", addr)
		if err := s.ListenAndServe(); err != nil && !errors.Is(err, ssh.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.Shutdown(shutdownCtx)
}

func (c *Console) middleware(next ssh.Handler) ssh.Handler {
	return func(sess ssh.Session) {
		cmd := "status"
		if args := sess.Command(); len(args) > 0 {
			cmd = args[0]
		}
		if err := c.render(sess, cmd); err != nil {
			wish.Fatalln(sess, err)
			return
		}
		next(sess)
	}
}

// render writes the output of one console command
func (c *Console) render(w io.Writer, cmd string) error {
	switch cmd {
	case "status":
		st := c.hub.Status(c.started)
		fmt.Fprintf(w, "agawan base  up %s\n", st.Uptime)
		fmt.Fprintf(w, "lobbies %d  games %d  players %d\n", st.Lobbies.Rooms, st.Lobbies.ActiveGames, st.Lobbies.Players)
		fmt.Fprintf(w, "clients %d  conns %d  signed in %d\n", st.Clients, st.Connections, st.Online)
		if c.hub.analytics != nil {
			fmt.Fprintf(w, "matches %d (this run %d)  dau %d\n", st.MatchesTotal, st.MatchesSaved, st.DAU)
			kinds := make([]string, 0, len(st.Events))
			for k := range st.Events {
				kinds = append(kinds, k)
			}
			sort.Strings(kinds)
			for _, k := range kinds {
				fmt.Fprintf(w, "  %-14s %d\n", k, st.Events[k])
			}
		}
	case "lobbies":
		list := c.hub.lobbies.List()
		if len(list) == 0 {
			fmt.Fprintln(w, "no open lobbies")
			return nil
		}
		for _, l := range list {
			fmt.Fprintf(w, "%s  %d/%d  %-8s %-5s host %s\n", l.ID, l.PlayerCount, l.MaxPlayers, l.Map, l.GameMode, l.HostUsername)
		}
	case "top":
		if c.hub.db == nil {
			return errors.New("persistence disabled")
		}
		rows, err := c.hub.db.GetLeaderboard("wins", 10)
		if err != nil {
			return err
		}
		for _, e := range rows {
			fmt.Fprintf(w, "%2d. %-16s wins %-4d tags %-4d rescues %-4d captures %d\n", e.Rank, e.Username, e.Wins, e.Tags, e.Rescues, e.Captures)
		}
	default:
		return fmt.Errorf("unknown command %q (try status, lobbies, top)", cmd)
	}
	return nil
}
