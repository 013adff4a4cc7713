package main

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/pterm/pterm"

	"github.com/luca-patrignani/quota-ledger/audit"
	"github.com/luca-patrignani/quota-ledger/consensus"
	"github.com/luca-patrignani/quota-ledger/domain/allocation"
	"github.com/luca-patrignani/quota-ledger/ledger"
	"github.com/luca-patrignani/quota-ledger/orchestrator"
)

// hashWidth is how many hash characters the chain table shows.
const hashWidth = 16

func shortHash(h string) string {
	if len(h) <= hashWidth {
		return h
	}
	return h[:hashWidth] + "…"
}

func formatAmount(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// usage renders allocated/quota per kind, default kinds first.
func usage(n allocation.Node) string {
	kinds := make([]allocation.ResourceKind, 0, len(n.Quota))
	for k := range n.Quota {
		kinds = append(kinds, k)
	}
	rank := func(k allocation.ResourceKind) int {
		for i, d := range allocation.DefaultKinds {
			if d == k {
				return i
			}
		}
		return len(allocation.DefaultKinds)
	}
	sort.Slice(kinds, func(i, j int) bool {
		ri, rj := rank(kinds[i]), rank(kinds[j])
		if ri != rj {
			return ri < rj
		}
		return kinds[i] < kinds[j]
	})
	parts := make([]string, 0, len(kinds))
	for _, k := range kinds {
		parts = append(parts, fmt.Sprintf("%s %s/%s", k, formatAmount(n.Allocated[k]), formatAmount(n.Quota[k])))
	}
	return strings.Join(parts, ", ")
}

func chainTable(blocks []ledger.Block) pterm.TableData {
	data := pterm.TableData{{"Index", "Time", "Transactions", "Nonce", "Previous", "Hash"}}
	for _, b := range blocks {
		txs := make([]string, 0, len(b.Transactions))
		for _, tx := range b.Transactions {
			txs = append(txs, tx.String())
		}
		if len(txs) == 0 {
			txs = append(txs, "genesis")
		}
		data = append(data, []string{
			strconv.Itoa(b.Index),
			time.Unix(0, b.Timestamp).Format(time.DateTime),
			strings.Join(txs, "\n"),
			strconv.FormatUint(b.Nonce, 10),
			shortHash(b.PrevHash),
			shortHash(b.Hash),
		})
	}
	return data
}

func nodesTable(nodes []allocation.Node) pterm.TableData {
	data := pterm.TableData{{"Node", "Allocated / Quota"}}
	for _, n := range nodes {
		data = append(data, []string{n.ID, usage(n)})
	}
	return data
}

func auditTable(events []audit.Event) pterm.TableData {
	data := pterm.TableData{{"Time", "Node", "Action", "Outcome", "Details"}}
	for _, e := range events {
		data = append(data, []string{
			e.Timestamp.Format(time.DateTime),
			e.NodeID,
			e.Action,
			colorOutcome(e.Outcome),
			e.Detail,
		})
	}
	return data
}

func historyTable(records []ledger.Record) pterm.TableData {
	data := pterm.TableData{{"Block", "Time", "Transaction"}}
	for _, r := range records {
		data = append(data, []string{
			strconv.Itoa(r.BlockIndex),
			time.Unix(0, r.Timestamp).Format(time.DateTime),
			r.Transaction.String(),
		})
	}
	return data
}

func colorOutcome(outcome string) string {
	switch outcome {
	case audit.OutcomeAccepted, audit.OutcomeValid, audit.OutcomeSuccess:
		return pterm.LightGreen(outcome)
	case audit.OutcomeWarning:
		return pterm.LightYellow(outcome)
	default:
		return pterm.LightRed(outcome)
	}
}

func decisionText(d consensus.Decision) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s  %d/%d votes, %d required\n", d.State, d.VotesFor, d.TotalNodes, d.Required)
	for _, v := range d.Votes {
		mark := pterm.LightGreen("✓")
		if v.Value != consensus.VoteAccept {
			mark = pterm.LightRed("✗")
		}
		line := fmt.Sprintf("%s %s", mark, v.VoterID)
		if v.Reason != "" {
			line += ": " + v.Reason
		}
		if !v.Verified {
			line += pterm.LightYellow(" (unverified)")
		}
		b.WriteString(line + "\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func statusText(s orchestrator.Status) string {
	nodes := strings.Join(s.Nodes, ", ")
	if nodes == "" {
		nodes = "none"
	}
	return fmt.Sprintf("Time: %s\nNodes: %s\nBlocks: %d\nDifficulty: %d\nThreshold: %s (%d votes required)\nAudit events: %d",
		s.Time.Format(time.DateTime), nodes, s.Blocks, s.Difficulty, formatAmount(s.Threshold), s.RequiredVotes, s.AuditEvents)
}

func renderTable(data pterm.TableData) {
	if err := pterm.DefaultTable.WithHasHeader().WithBoxed().WithData(data).Render(); err != nil {
		pterm.Error.Println(err)
	}
}

func box(title, body string) string {
	return pterm.DefaultBox.WithTitle(title).WithTitleTopLeft().WithHorizontalPadding(2).Sprint(body)
}

// render prints a command result, drawing tables and boxes for the data the
// command returned.
func render(res orchestrator.Result) {
	if res.Success {
		pterm.Success.Println(res.Message)
	} else {
		pterm.Error.Println(res.Message)
	}

	switch data := res.Data.(type) {
	case orchestrator.Status:
		pterm.Println(box("Status", statusText(data)))
	case map[string]any:
		if chain, ok := data["chain"].([]ledger.Block); ok {
			renderTable(chainTable(chain))
		}
		if events, ok := data["events"].([]audit.Event); ok {
			renderTable(auditTable(events))
		}
		if records, ok := data["records"].([]ledger.Record); ok {
			renderTable(historyTable(records))
		}
		if d, ok := data["decision"].(consensus.Decision); ok {
			pterm.Println(box("Votes", decisionText(d)))
		}
		if n, ok := data["node_status"].(allocation.Node); ok {
			renderTable(nodesTable([]allocation.Node{n}))
		}
		if token, ok := data["token"].(string); ok {
			pterm.Info.Printfln("Access token: %s", token)
		}
		if violations, ok := data["violations"].([]ledger.Violation); ok {
			for _, v := range violations {
				pterm.Warning.Println(v.String())
			}
		}
	}
}
