//go:build !govips || !cgo

package convert

func Startup() error {
	return nil
}

func Shutdown() {}

func newPrimaryBackend() (PrimaryBackend, error) {
	return stdPrimary{}, nil
}
