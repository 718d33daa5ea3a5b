package httpd

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"io/ioutil"
	"net/http"

	"github.com/pkg/errors"
)

var ErrJoinRejected = errors.New("join rejected")

// Join 请求 joinAddr 上的节点把本节点加入集群
// 对方不是 leader 时会返回 307 http.Client 默认会跟随到 leader
func Join(ctx context.Context, client *http.Client, joinAddr, nodeID, httpAddr, raftAddr string) error {
	b, err := json.Marshal(joinRequest{ID: nodeID, HTTPAddr: httpAddr, RaftAddr: raftAddr})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "http://"+joinAddr+"/join", bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return errors.Wrapf(err, "join %s", joinAddr)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := ioutil.ReadAll(io.LimitReader(resp.Body, 1024))
		return errors.Wrapf(ErrJoinRejected, "%s: %d %s", joinAddr, resp.StatusCode, bytes.TrimSpace(msg))
	}
	return nil
}
