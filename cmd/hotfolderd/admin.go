package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/Lllllllleong/hotfolderflow/internal/config"
	"github.com/Lllllllleong/hotfolderflow/internal/control"
	"github.com/Lllllllleong/hotfolderflow/internal/journal"
	"github.com/Lllllllleong/hotfolderflow/internal/models"
	"github.com/urfave/cli/v2"
)

func sendAction(c *cli.Context, env config.Env, cmd string) error {
	client := &control.Client{Addr: env.ControlAddr}
	resp, err := client.Send(c.Context, cmd)
	if err != nil {
		return err
	}
	fmt.Println(resp.Message)
	if resp.Status != models.ResponseSuccess {
		return cli.Exit("", 1)
	}
	return nil
}

func statusAction(c *cli.Context, env config.Env) error {
	client := &control.Client{Addr: env.ControlAddr}
	st, err := client.Status(c.Context)
	if err != nil {
		return err
	}
	fmt.Printf("Running since %s, configuration loaded %s\n\n",
		st.StartedAt.Format(time.DateTime), st.ConfigLoaded.Format(time.DateTime))
	fmt.Printf("%-20s %-11s %-7s %-9s %-7s %s\n", "Hotfolder", "State", "Queued", "Processed", "Failed", "Detail")
	fmt.Println(strings.Repeat("-", 80))
	for _, w := range st.Workers {
		detail := w.Current
		if detail == "" {
			detail = w.LastError
		}
		fmt.Printf("%-20s %-11s %-7d %-9d %-7d %s\n", w.HotfolderID, w.State, w.Queued, w.Processed, w.Failed, detail)
	}
	return nil
}

func validateAction(c *cli.Context, env config.Env) error {
	path := env.ConfigPath
	if c.Args().Len() > 0 {
		path = c.Args().First()
	}
	snap, err := config.NewFileStore(path).Load()
	if err != nil {
		return err
	}
	enabled := 0
	for _, h := range snap.Hotfolders {
		if h.Enabled {
			enabled++
		}
	}
	fmt.Printf("%s: %d hotfolders (%d enabled), %d stamps\n", path, len(snap.Hotfolders), enabled, len(snap.Stamps))
	return nil
}

func historyAction(c *cli.Context, env config.Env) error {
	state, err := journal.OpenSQLite(c.Context, env.StateDB)
	if err != nil {
		return err
	}
	defer state.Close()

	recs, err := state.Recent(c.Context, c.Int("limit"))
	if err != nil {
		return err
	}
	if len(recs) == 0 {
		fmt.Println("No runs recorded")
		return nil
	}
	fmt.Printf("%-20s %-16s %-10s %-30s %s\n", "Started", "Hotfolder", "Status", "File", "Error")
	fmt.Println(strings.Repeat("-", 100))
	for _, r := range recs {
		fmt.Printf("%-20s %-16s %-10s %-30s %s\n",
			r.CreatedAt.Local().Format(time.DateTime), r.HotfolderID, r.Status, r.OriginalFilename, r.ErrorDetails)
	}
	return nil
}

func countersListAction(c *cli.Context, env config.Env) error {
	state, err := journal.OpenSQLite(c.Context, env.StateDB)
	if err != nil {
		return err
	}
	defer state.Close()

	list, err := state.Counters(c.Context)
	if err != nil {
		return err
	}
	for _, ctr := range list {
		fmt.Printf("%-30s %d\n", ctr.Name, ctr.Value)
	}
	return nil
}

func countersSetAction(c *cli.Context, env config.Env) error {
	if c.Args().Len() != 2 {
		return cli.Exit("usage: hotfolderd counters set <name> <value>", 2)
	}
	value, err := strconv.ParseInt(c.Args().Get(1), 10, 64)
	if err != nil {
		return fmt.Errorf("counter value: %w", err)
	}
	state, err := journal.OpenSQLite(c.Context, env.StateDB)
	if err != nil {
		return err
	}
	defer state.Close()
	return state.SetCounter(c.Context, c.Args().First(), value)
}

func countersDeleteAction(c *cli.Context, env config.Env) error {
	if c.Args().Len() != 1 {
		return cli.Exit("usage: hotfolderd counters delete <name>", 2)
	}
	state, err := journal.OpenSQLite(c.Context, env.StateDB)
	if err != nil {
		return err
	}
	defer state.Close()
	return state.DeleteCounter(c.Context, c.Args().First())
}
