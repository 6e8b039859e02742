package remote

import (
	"context"
	"io"
	"os"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
)

// sftpWriteBufferSize bounds the engine's in-memory copy buffer for
// streamed uploads. The SFTP client's bounded request window provides the
// backpressure; when the remote cannot accept more data the copy loop
// blocks instead of buffering.
const sftpWriteBufferSize = 32 * 1024

func newSFTPClient(client *ssh.Client) (*sftp.Client, error) {
	return sftp.NewClient(client)
}

// sftpStream ties a remote file's read side to the connections beneath it,
// so closing the stream (or cancelling its context) tears the transport
// down promptly instead of letting it idle.
type sftpStream struct {
	file   *sftp.File
	sftp   *sftp.Client
	client *ssh.Client
	cancel context.CancelFunc
}

func (s *sftpStream) Read(p []byte) (int, error) {
	return s.file.Read(p)
}

func (s *sftpStream) Close() error {
	s.cancel()
	err := s.file.Close()
	s.sftp.Close()
	s.client.Close()
	return err
}

// SFTPRead opens a lazily-consumed byte stream for a remote file. The
// returned ReadCloser must be closed; cancelling ctx also closes the
// underlying transport.
func (e *Engine) SFTPRead(ctx context.Context, creds Credentials, remotePath string) (io.ReadCloser, error) {
	client, err := e.connect(ctx, creds)
	if err != nil {
		return nil, err
	}

	sftpClient, err := newSFTPClient(client)
	if err != nil {
		client.Close()
		return nil, failure(KindProtocolError, "open sftp", err)
	}

	file, err := sftpClient.Open(remotePath)
	if err != nil {
		sftpClient.Close()
		client.Close()
		if os.IsNotExist(err) {
			return nil, failure(KindProtocolError, "open "+remotePath, err)
		}
		return nil, failure(KindTransportError, "open "+remotePath, err)
	}

	streamCtx, cancel := context.WithCancel(ctx)
	go func() {
		<-streamCtx.Done()
		// Closing the ssh client unblocks any in-flight read.
		client.Close()
	}()

	return &sftpStream{file: file, sftp: sftpClient, client: client, cancel: cancel}, nil
}

// SFTPWrite streams src to a remote path, creating or truncating it. The
// copy uses a fixed-size buffer; transport backpressure suspends the
// producer rather than growing memory. Returns the number of bytes written.
func (e *Engine) SFTPWrite(ctx context.Context, creds Credentials, remotePath string, src io.Reader) (int64, error) {
	client, err := e.connect(ctx, creds)
	if err != nil {
		return 0, err
	}
	defer client.Close()

	sftpClient, err := newSFTPClient(client)
	if err != nil {
		return 0, failure(KindProtocolError, "open sftp", err)
	}
	defer sftpClient.Close()

	file, err := sftpClient.OpenFile(remotePath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC)
	if err != nil {
		return 0, failure(KindTransportError, "create "+remotePath, err)
	}

	writeCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		<-writeCtx.Done()
		if writeCtx.Err() == context.Canceled && ctx.Err() == nil {
			return // normal completion
		}
		client.Close()
	}()

	n, err := io.CopyBuffer(file, src, make([]byte, sftpWriteBufferSize))
	closeErr := file.Close()
	if err != nil {
		if ctx.Err() != nil {
			return n, failure(KindCommandTimeout, "write "+remotePath, ctx.Err())
		}
		return n, failure(KindTransportError, "write "+remotePath, err)
	}
	if closeErr != nil {
		return n, failure(KindTransportError, "close "+remotePath, closeErr)
	}
	return n, nil
}
