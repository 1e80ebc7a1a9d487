package main

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/sungwon/psp-relay/internal/auth"
)

var sendCmd = &cobra.Command{
	Use:   "send",
	Short: "Publish a notification through the producer API",
	RunE:  send,
}

var producerRoutes = map[string]bool{
	"delivery_only":  true,
	"pick_up":        true,
	"local_delivery": true,
	"pspmock":        true,
}

func init() {
	f := sendCmd.Flags()
	f.String("api", "http://localhost:8887", "relay producer API base URL")
	f.String("route", "pick_up", "producer route: delivery_only, pick_up, local_delivery or pspmock")
	f.String("option", "", "free-text delivery option for the pspmock route, e.g. abholen")
	f.String("req", "", "transaction id")
	f.String("file", "", "read the payload from this file")
	f.String("data", "", "payload text, used when --file is not set")
	f.String("token", "", "producer bearer token or static API key")
	f.String("signing-key", "", "sign a producer token with this key when --token is not set")
	f.String("issuer", "psp-relay", "issuer of generated producer tokens")
	f.String("audience", "psp-relay-producers", "audience of generated producer tokens")
	f.String("producer", "psp-client", "producer name in generated tokens")
	_ = settings.BindPFlags(f)
	rootCmd.AddCommand(sendCmd)
}

func send(cmd *cobra.Command, args []string) error {
	endpoint, err := producerURL()
	if err != nil {
		return err
	}

	payload, err := readPayload()
	if err != nil {
		return err
	}

	token, err := producerToken()
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(cmd.Context(), http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/pkcs7-mime")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	client := &http.Client{Timeout: settings.GetDuration("timeout")}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("post %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	fmt.Fprintf(cmd.ErrOrStderr(), "%s %s\n", resp.Status, endpoint)
	fmt.Fprint(cmd.OutOrStdout(), string(body))
	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("relay rejected notification: %s", resp.Status)
	}
	return nil
}

func producerURL() (string, error) {
	route := settings.GetString("route")
	if !producerRoutes[route] {
		return "", fmt.Errorf("unknown route %q", route)
	}

	segments := []string{strings.TrimSuffix(settings.GetString("api"), "/"), route}
	if route == "pspmock" {
		option := settings.GetString("option")
		if option == "" {
			return "", fmt.Errorf("--option is required for the pspmock route")
		}
		segments = append(segments, url.PathEscape(option))
	}
	if id := settings.GetString("id"); id != "" {
		segments = append(segments, url.PathEscape(id))
	}

	endpoint := strings.Join(segments, "/")
	if txID := settings.GetString("req"); txID != "" {
		endpoint += "?req=" + url.QueryEscape(txID)
	}
	return endpoint, nil
}

func readPayload() ([]byte, error) {
	if path := settings.GetString("file"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read payload: %w", err)
		}
		return data, nil
	}
	return []byte(settings.GetString("data")), nil
}

func producerToken() (string, error) {
	if token := settings.GetString("token"); token != "" {
		return token, nil
	}
	key := settings.GetString("signing-key")
	if key == "" {
		return "", nil
	}

	svc := auth.NewJWTService(auth.JWTConfig{
		SigningKey:  key,
		TokenExpiry: 5 * time.Minute,
		Issuer:      settings.GetString("issuer"),
		Audience:    settings.GetString("audience"),
	})
	return svc.GenerateProducerToken(settings.GetString("producer"))
}
