package config

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"go.uber.org/zap"
)

func readConfig(logger *zap.Logger, client *http.Client, p string) (data []byte, err error) {
	p = strings.TrimSpace(p)
	if strings.HasPrefix(p, "https://") {
		logger.Sugar().Debugf("reading config at URL %s", p)
		resp, err := client.Get(p)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("GET %s: %s", p, resp.Status)
		}
		return io.ReadAll(resp.Body)
	}
	logger.Sugar().Debugf("reading config at filesystem path %s", p)
	return os.ReadFile(p)
}
