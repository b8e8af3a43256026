package tinyble

import (
	"github.com/sirupsen/logrus"
	"github.com/srg/uartscope/internal/device/bluez"
)

func newPlatformSystem(logger *logrus.Logger) (System, error) {
	client, err := bluez.Open(logger)
	if err != nil {
		return nil, err
	}
	return client, nil
}
