package client

import (
	"fmt"

	"github.com/ValentinKolb/sKV/lib/store"
	"github.com/ValentinKolb/sKV/rpc/common"
)

// checkResponse checks if the response is an error response and if the type
// of the response is the expected type
func checkResponse(resp *common.Response, expected common.MessageType, allowNotFound bool) error {
	// Check if the response is an error response
	if resp.Status != common.StatusOK && !(allowNotFound && resp.Status == common.StatusNotFound) {
		return resp.Err()
	}

	// Check if the type of the response is the expected type
	if resp.Type != expected {
		return fmt.Errorf("unexpected response type: %s, expected %s", resp.Type, expected)
	}
	return nil
}

// firstValue returns the first value of a response, loaded is false for responses without values
func firstValue(resp *common.Response) (value store.Value, loaded bool, err error) {
	if len(resp.Values) == 0 {
		return store.Value{}, false, nil
	}
	return resp.Values[0], true, nil
}
