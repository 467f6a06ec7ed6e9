// Package bootstrap decodes DPP bootstrapping URIs of the form
//
//	DPP:C:<channel>;M:<mac>;K:<key>;;
//
// Tags may appear in any order and unknown tags are ignored.
package bootstrap

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/qrdia/dpp-provisioner/internal/model"
	"github.com/zeebo/blake3"
)

// ErrMalformed is returned for text that is not a usable DPP payload.
var ErrMalformed = errors.New("malformed bootstrap payload")

const (
	scheme = "DPP:"

	tagChannel = "C"
	tagMAC     = "M"
	tagKey     = "K"
	tagPincode = "P"
)

// Parse extracts the channel, MAC address and key from raw.
func Parse(raw string) (model.BootstrapInfo, error) {
	text := strings.TrimSpace(raw)
	if !strings.HasPrefix(text, scheme) {
		return model.BootstrapInfo{}, fmt.Errorf("%w: missing %q prefix", ErrMalformed, scheme)
	}

	fields := make(map[string]string, 4)
	for _, segment := range strings.Split(text[len(scheme):], ";") {
		// MAC addresses contain colons, so only the first one separates the tag.
		tag, value, ok := strings.Cut(segment, ":")
		if !ok {
			continue
		}
		tag = strings.TrimSpace(tag)
		if _, seen := fields[tag]; seen {
			continue
		}
		fields[tag] = strings.TrimSpace(value)
	}

	var missing []string
	for _, tag := range []string{tagChannel, tagMAC, tagKey} {
		if fields[tag] == "" {
			missing = append(missing, tag)
		}
	}
	if len(missing) > 0 {
		return model.BootstrapInfo{}, fmt.Errorf("%w: missing %s", ErrMalformed, strings.Join(missing, ", "))
	}

	return model.BootstrapInfo{
		MACAddress: fields[tagMAC],
		Channel:    fields[tagChannel],
		Key:        fields[tagKey],
		Pincode:    fields[tagPincode],
	}, nil
}

// Format renders info back into the canonical URI handed to hostapd.
func Format(info model.BootstrapInfo) string {
	var b strings.Builder
	b.WriteString(scheme)
	fmt.Fprintf(&b, "%s:%s;%s:%s;", tagChannel, info.Channel, tagMAC, info.MACAddress)
	if info.Pincode != "" {
		fmt.Fprintf(&b, "%s:%s;", tagPincode, info.Pincode)
	}
	fmt.Fprintf(&b, "%s:%s;;", tagKey, info.Key)
	return b.String()
}

// Fingerprint returns a short digest of a bootstrap key for log lines.
func Fingerprint(key string) string {
	sum := blake3.Sum256([]byte(key))
	return hex.EncodeToString(sum[:6])
}
