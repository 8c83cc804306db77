// Package orchestrator drives the initial-deploy path: render the compose
// document for a project and publish a single deploy message to the
// message-queue exchange the provisioning workers consume from.
package orchestrator

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/trydirect/deployctl/internal/cperrors"
	"github.com/trydirect/deployctl/internal/project"
	"github.com/trydirect/deployctl/internal/template"
)

const installExchange = "install"

// Publisher is the subset of an amqp channel the orchestrator needs,
// satisfied by *amqp.Channel.
type Publisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// Orchestrator renders the compose document and publishes the deploy message.
type Orchestrator struct {
	channel Publisher
}

// New constructs an Orchestrator bound to an already-open AMQP channel.
func New(channel Publisher) *Orchestrator {
	return &Orchestrator{channel: channel}
}

// deployPayload is the message body published for the initial deploy.
type deployPayload struct {
	ProjectForm       json.RawMessage `json:"project_form"`
	ComposeGzipBase64 string          `json:"compose_gzip"`
}

// Deploy renders the project's compose document, gzips it, and publishes a
// single message to exchange "install" with routing key
// "install.start.{provider}.all.all" where provider is "own" when the
// credential's provider string contains "own", else "tfa".
func (o *Orchestrator) Deploy(ctx context.Context, p *project.Project, apps []*project.ProjectApp, cred *project.CloudCredential) error {
	compose, err := template.RenderCompose(p, apps)
	if err != nil {
		return fmt.Errorf("render compose: %w", err)
	}

	compressed, err := gzipString(compose)
	if err != nil {
		return cperrors.Internal("gzip compose document", err)
	}

	payload := deployPayload{
		ProjectForm:       p.RequestJSON,
		ComposeGzipBase64: compressed,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return cperrors.Internal("encode deploy payload", err)
	}

	routingKey := fmt.Sprintf("install.start.%s.all.all", cred.RoutingProvider())

	err = o.channel.PublishWithContext(ctx, installExchange, routingKey, false, false, amqp.Publishing{
		ContentType: "application/json",
		Body:        body,
	})
	if err != nil {
		return cperrors.Upstream(cperrors.CodeMQUpstream, err)
	}
	return nil
}

func gzipString(s string) (string, error) {
	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	if _, err := gw.Write([]byte(s)); err != nil {
		return "", err
	}
	if err := gw.Close(); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}
