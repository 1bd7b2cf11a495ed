package attestation

import (
	"context"
	"fmt"

	"github.com/aspect-build/teeguest/internal/dstack"
)

// DstackInfoCollector collects local attestation material from the guest
// agent's Info.
type DstackInfoCollector struct {
	client *dstack.DstackClient
}

func NewDstackInfoCollector(client *dstack.DstackClient) *DstackInfoCollector {
	return &DstackInfoCollector{client: client}
}

func (c *DstackInfoCollector) Collect(ctx context.Context) (Bundle, error) {
	info, err := c.client.Info(ctx)
	if err != nil {
		return Bundle{}, fmt.Errorf("dstack info: %w", err)
	}
	return Bundle{
		AppCert:     info.AppCert,
		TCBInfo:     string(info.RawTcbInfo),
		AppID:       info.AppID,
		Instance:    info.InstanceID,
		DeviceID:    info.DeviceID,
		ComposeHash: info.ComposeHash,
	}, nil
}
