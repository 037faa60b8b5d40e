package decrypt

import (
	"context"
	"encoding/pem"
	"testing"

	"github.com/cloudflare/cfsmime/cli"
	"github.com/cloudflare/cfsmime/cli/clitest"
	cferr "github.com/cloudflare/cfsmime/errors"
	"github.com/stretchr/testify/require"
)

const alice = "alice@example.com"

var content = []byte("Content-Type: text/plain\r\n\r\nHello, World!\r\n")

func encrypt(t *testing.T, c cli.Config) []byte {
	sc, err := cli.OpenContext(context.Background(), c)
	require.NoError(t, err)
	defer sc.Close()
	der, err := sc.Encrypt(context.Background(), []string{alice}, content)
	require.NoError(t, err)
	return der
}

func TestDecryptMain(t *testing.T) {
	c := clitest.Config(t)
	clitest.Identity(t, c, alice)
	out := clitest.Capture(t)

	der := encrypt(t, c)
	require.NoError(t, decryptMain([]string{clitest.WriteFile(t, "msg.p7m", der)}, c))
	require.Equal(t, content, out.Bytes())

	out.Reset()
	armored := pem.EncodeToMemory(&pem.Block{Type: "PKCS7", Bytes: der})
	require.NoError(t, decryptMain([]string{clitest.WriteFile(t, "msg.pem", armored)}, c))
	require.Equal(t, content, out.Bytes())
}

func TestDecryptWithoutKey(t *testing.T) {
	c := clitest.Config(t)
	clitest.Identity(t, c, alice)
	der := encrypt(t, c)

	clitest.Capture(t)
	other := clitest.Config(t)
	err := decryptMain([]string{clitest.WriteFile(t, "msg.p7m", der)}, other)
	require.Error(t, err)
	require.False(t, cferr.IsArgument(err))

	require.Error(t, decryptMain(nil, other))
}
