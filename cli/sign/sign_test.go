package sign

import (
	"context"
	"encoding/pem"
	"testing"

	"github.com/cloudflare/cfsmime/cli"
	"github.com/cloudflare/cfsmime/cli/clitest"
	"github.com/stretchr/testify/require"
)

const alice = "alice@example.com"

var content = []byte("Content-Type: text/plain\r\n\r\nHello, World!\r\n")

func TestSignerMain(t *testing.T) {
	c := clitest.Config(t)
	clitest.Identity(t, c, alice)
	out := clitest.Capture(t)

	file := clitest.WriteFile(t, "content.txt", content)
	require.NoError(t, signerMain([]string{"Alice <" + alice + ">", file}, c))

	sc, err := cli.OpenContext(context.Background(), c)
	require.NoError(t, err)
	defer sc.Close()
	sigs, err := sc.Verify(context.Background(), out.Bytes(), nil)
	require.NoError(t, err)
	require.Len(t, sigs, 1)
	require.True(t, sigs[0].Valid(), "%v", sigs[0].Err)
}

func TestSignerDetachedPEM(t *testing.T) {
	c := clitest.Config(t)
	clitest.Identity(t, c, alice)
	out := clitest.Capture(t)

	c.Detached = true
	c.PEM = true
	require.NoError(t, signerMain([]string{alice, clitest.WriteFile(t, "content.txt", content)}, c))
	block, _ := pem.Decode(out.Bytes())
	require.NotNil(t, block)
	require.Equal(t, "PKCS7", block.Type)

	sc, err := cli.OpenContext(context.Background(), c)
	require.NoError(t, err)
	defer sc.Close()
	sigs, err := sc.Verify(context.Background(), block.Bytes, content)
	require.NoError(t, err)
	require.True(t, sigs[0].Valid(), "%v", sigs[0].Err)
}

func TestBadSigner(t *testing.T) {
	c := clitest.Config(t)
	clitest.Capture(t)
	file := clitest.WriteFile(t, "content.txt", content)

	require.Error(t, signerMain([]string{alice}, c))
	require.Error(t, signerMain([]string{"nobody@example.com", file}, c))
	require.Error(t, signerMain([]string{"not a mailbox", file}, c))
}
