package stream

import (
	"fmt"
	"io"
)

// Boundary separates parts of the MJPEG response.
const Boundary = "frame"

// ContentType is the response header value for an MJPEG feed.
const ContentType = "multipart/x-mixed-replace; boundary=" + Boundary

// WriteMultipart writes one JPEG as a multipart/x-mixed-replace part.
func WriteMultipart(w io.Writer, frame []byte) error {
	if _, err := fmt.Fprintf(w, "--%s\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n", Boundary, len(frame)); err != nil {
		return err
	}
	if _, err := w.Write(frame); err != nil {
		return err
	}
	_, err := io.WriteString(w, "\r\n")
	return err
}
