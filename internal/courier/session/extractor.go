package session

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"golang.org/x/net/html"
)

// The landing page embeds its bootstrap state as JSON script blocks, each
// tagged with a data-block id. Four of them carry everything the realtime
// client needs.
const (
	blockSync     = "sync-params"
	blockEndpoint = "endpoint-params"
	blockViewer   = "viewer"
	blockSecurity = "security"
)

// PageConfig is the configuration recovered from one fetched HTML page.
// Fields are zero-valued when the corresponding block was absent.
type PageConfig struct {
	InitialSequenceID int64
	DeviceID          string

	Endpoint string
	Region   string
	AppID    string

	AccountID          string
	SecondaryAccountID string

	CSRFToken    string
	CSRFChecksum string
}

type syncBlock struct {
	SequenceID int64  `json:"seq_id"`
	DeviceID   string `json:"device_id"`
}

type endpointBlock struct {
	Endpoint string `json:"endpoint"`
	Region   string `json:"region"`
	AppID    string `json:"app_id"`
}

type viewerBlock struct {
	AccountID          string `json:"account_id"`
	SecondaryAccountID string `json:"secondary_account_id"`
}

type securityBlock struct {
	Token    string `json:"token"`
	Checksum string `json:"checksum"`
}

// ExtractPageConfig scans an HTML document for the embedded JSON blocks and
// assembles a PageConfig. It returns a CheckpointError when the page is a
// verification interstitial rather than the app shell.
func ExtractPageConfig(page []byte) (*PageConfig, error) {
	cfg := &PageConfig{}
	found := 0

	tokenizer := html.NewTokenizer(bytes.NewReader(page))
	for {
		switch tokenizer.Next() {
		case html.ErrorToken:
			if found == 0 {
				return nil, fmt.Errorf("no configuration blocks found in page")
			}
			return cfg, nil

		case html.StartTagToken:
			token := tokenizer.Token()
			switch token.Data {
			case "form":
				if action := attr(token, "action"); strings.Contains(action, "/checkpoint") {
					return nil, &CheckpointError{URL: action}
				}
			case "script":
				if attr(token, "type") != "application/json" {
					continue
				}
				blockID := attr(token, "data-block")
				if blockID == "" {
					continue
				}
				if tokenizer.Next() != html.TextToken {
					continue
				}
				body := tokenizer.Text()
				if err := cfg.applyBlock(blockID, body); err != nil {
					return nil, err
				}
				found++
			}
		}
	}
}

func (c *PageConfig) applyBlock(blockID string, body []byte) error {
	switch blockID {
	case blockSync:
		var b syncBlock
		if err := json.Unmarshal(body, &b); err != nil {
			return fmt.Errorf("malformed %s block: %w", blockID, err)
		}
		c.InitialSequenceID = b.SequenceID
		c.DeviceID = b.DeviceID
	case blockEndpoint:
		var b endpointBlock
		if err := json.Unmarshal(body, &b); err != nil {
			return fmt.Errorf("malformed %s block: %w", blockID, err)
		}
		c.Endpoint = b.Endpoint
		c.Region = b.Region
		c.AppID = b.AppID
	case blockViewer:
		var b viewerBlock
		if err := json.Unmarshal(body, &b); err != nil {
			return fmt.Errorf("malformed %s block: %w", blockID, err)
		}
		c.AccountID = b.AccountID
		c.SecondaryAccountID = b.SecondaryAccountID
	case blockSecurity:
		var b securityBlock
		if err := json.Unmarshal(body, &b); err != nil {
			return fmt.Errorf("malformed %s block: %w", blockID, err)
		}
		c.CSRFToken = b.Token
		c.CSRFChecksum = b.Checksum
	}
	// Unknown block ids are page content we don't care about.
	return nil
}

func attr(token html.Token, name string) string {
	for _, a := range token.Attr {
		if a.Key == name {
			return a.Val
		}
	}
	return ""
}
