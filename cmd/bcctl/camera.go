package main

import (
	"context"
	"fmt"

	"github.com/camlink/bc-go/internal/bcerr"
	"github.com/camlink/bc-go/internal/camconfig"
	"github.com/camlink/bc-go/internal/session"
)

// openNamed loads configPath and opens a session against the camera named
// name, picking the constructor form its config entry calls for.
func openNamed(ctx context.Context, name string) (*session.Session, error) {
	f, err := camconfig.Load(configPath)
	if err != nil {
		return nil, err
	}
	for _, cam := range f.Cameras {
		if cam.Name != name {
			continue
		}
		opts := session.Options{
			ChannelID:     cam.ChannelID,
			MaxEncryption: cam.MaxEncryptionMode(),
			PrintFormat:   cam.PrintFormatValue(),
			AllowedMask:   cam.AllowedMask(),
			Log:           log,
		}
		creds := cam.Credentials()
		switch {
		case cam.Address != "" && cam.UID != "":
			return session.OpenEither(ctx, cam.Address, cam.UID, creds, opts)
		case cam.UID != "":
			return session.OpenUID(ctx, cam.UID, creds, opts)
		case cam.Address != "":
			return session.Open(ctx, cam.Address, creds, opts)
		default:
			return nil, bcerr.New(bcerr.KindOther, "bcctl.openNamed", "camera entry has neither address nor uid")
		}
	}
	return nil, bcerr.New(bcerr.KindOther, "bcctl.openNamed", fmt.Sprintf("no camera named %q in %s", name, configPath))
}
