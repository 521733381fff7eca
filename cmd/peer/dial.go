package main

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/anyhost/meshnet/meshnet"
)

var (
	dialMessage string
	dialTimeout time.Duration
)

var dialCmd = &cobra.Command{
	Use:   "dial <multiaddr>",
	Short: "Dial a peer, open the echo protocol, send a message, and print the reply",
	Args:  cobra.ExactArgs(1),
	RunE:  runDial,
}

func init() {
	dialCmd.Flags().StringVarP(&dialMessage, "message", "m", "hello", "Message to send once connected")
	dialCmd.Flags().DurationVar(&dialTimeout, "wait", 10*time.Second, "How long to wait for a reply before giving up")
}

func runDial(cmd *cobra.Command, args []string) error {
	logger := setupLogger(logLevel)
	addr := meshnet.Multiaddr(args[0])

	replies := make(chan []byte, 1)
	client := &echoClient{logger: logger, message: []byte(dialMessage), replies: replies}

	registry, err := meshnet.NewProtocolRegistry([]*meshnet.ProtocolMeta{
		{
			ID:                meshnet.EchoProtocolID,
			Name:              meshnet.EchoProtocolName,
			SupportedVersions: []string{"1.0.0"},
			SessionHandler:    func() meshnet.SessionProtocol { return client },
		},
	})
	if err != nil {
		return fmt.Errorf("failed to build protocol registry: %w", err)
	}

	cfg, err := loadServiceConfig()
	if err != nil {
		return err
	}

	identity, err := meshnet.GenerateKeyPair()
	if err != nil {
		return fmt.Errorf("failed to generate identity: %w", err)
	}

	svc := meshnet.NewService(meshnet.ServiceOptions{
		Registry: registry,
		Config:   cfg,
		Identity: identity,
		Logger:   logger,
	})
	go svc.Run()

	protoID := meshnet.EchoProtocolID
	svc.Dial(addr, meshnet.TargetProtocol{Single: &protoID})

	select {
	case reply := <-replies:
		fmt.Printf("%s\n", reply)
	case <-time.After(dialTimeout):
		svc.Control().Shutdown(true)
		<-svc.Terminated()
		return fmt.Errorf("timed out waiting for a reply after %s", dialTimeout)
	}

	svc.Control().Shutdown(false)
	<-svc.Terminated()
	return nil
}

// echoClient is the dial-side SessionProtocol: it sends one message once
// connected and forwards whatever it gets back onto replies.
type echoClient struct {
	logger  *slog.Logger
	message []byte
	replies chan []byte
	sent    bool
}

func (c *echoClient) Connected(ctx *meshnet.ProtocolContextRef, version string) {
	c.logger.Info("connected", slog.String("version", version))
	if c.sent {
		return
	}
	c.sent = true
	ctx.Service.Control.SendMessage(
		meshnet.TargetSession{Single: &ctx.Session.ID},
		ctx.ProtocolID,
		c.message,
		meshnet.Normal,
	)
}

func (c *echoClient) Disconnected(ctx *meshnet.ProtocolContextRef) {
	c.logger.Info("disconnected")
}

func (c *echoClient) Received(ctx *meshnet.ProtocolContextRef, data []byte) {
	select {
	case c.replies <- data:
	default:
	}
}

func (c *echoClient) Notify(ctx *meshnet.ProtocolContextRef, token uint64) {}
