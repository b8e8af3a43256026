//go:build !linux

package tinyble

import (
	"github.com/sirupsen/logrus"
	"github.com/srg/uartscope/internal/device"
)

func newPlatformSystem(*logrus.Logger) (System, error) {
	return nil, device.ErrUnsupported
}
