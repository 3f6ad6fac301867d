package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	stdhttp "net/http"
	"time"

	ui "github.com/gizak/termui/v3"
	"github.com/gizak/termui/v3/widgets"
)

// statusResponse mirrors internal/handler/http.statusResponse's wire shape;
// kept local and minimal since the dashboard only renders a handful of fields.
type statusResponse struct {
	Version  string `json:"version"`
	Channels []struct {
		Channel string `json:"channel"`
		Request struct {
			Exists     bool   `json:"exists"`
			PostedTime string `json:"posted_time"`
			PickupTime string `json:"pickup_time"`
		} `json:"request"`
		Reply struct {
			Exists     bool   `json:"exists"`
			PostedTime string `json:"posted_time"`
			PickupTime string `json:"pickup_time"`
		} `json:"reply"`
	} `json:"channels"`
}

// RunStatusDashboard polls baseURL+"/status" on interval and renders a live
// terminal table of recently active channels, an operator convenience per
// §4.4 — it is not part of the wire contract and has no effect on the relay.
func RunStatusDashboard(ctx context.Context, baseURL string, interval time.Duration) error {
	if err := ui.Init(); err != nil {
		return fmt.Errorf("status: termui init: %w", err)
	}
	defer ui.Close()

	table := widgets.NewTable()
	table.Title = "jupyter-bridge: recently active channels"
	table.Rows = [][]string{{"channel", "request", "reply"}}
	table.TextStyle = ui.NewStyle(ui.ColorWhite)
	table.SetRect(0, 0, 100, 30)

	resize := func() {
		w, h := ui.TerminalDimensions()
		table.SetRect(0, 0, w, h)
	}
	resize()
	ui.Render(table)

	client := &stdhttp.Client{Timeout: 5 * time.Second}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	events := ui.PollEvents()

	refresh := func() {
		resp, err := fetchStatus(ctx, client, baseURL)
		rows := [][]string{{"channel", "request", "reply"}}
		if err != nil {
			rows = append(rows, []string{"(error)", err.Error(), ""})
		} else {
			for _, c := range resp.Channels {
				rows = append(rows, []string{c.Channel, slotLabel(c.Request.Exists), slotLabel(c.Reply.Exists)})
			}
		}
		table.Rows = rows
		ui.Render(table)
	}
	refresh()

	for {
		select {
		case <-ctx.Done():
			return nil
		case e := <-events:
			switch e.ID {
			case "q", "<C-c>":
				return nil
			case "<Resize>":
				resize()
				ui.Render(table)
			}
		case <-ticker.C:
			refresh()
		}
	}
}

func slotLabel(occupied bool) string {
	if occupied {
		return "posted"
	}
	return "empty"
}

func fetchStatus(ctx context.Context, client *stdhttp.Client, baseURL string) (*statusResponse, error) {
	req, err := stdhttp.NewRequestWithContext(ctx, stdhttp.MethodGet, baseURL+"/status", nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var out statusResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	return &out, nil
}
