package engine

import (
	"bufio"
	"io"
	"os"
)

// copyTail copies r to w, keeping only the last n lines when n > 0.
func copyTail(w io.Writer, r io.Reader, n int) error {
	if n <= 0 {
		_, err := io.Copy(w, r)
		return err
	}
	ring := make([][]byte, n)
	count := 0
	reader := bufio.NewReader(r)
	for {
		line, err := reader.ReadBytes('\n')
		if len(line) > 0 {
			ring[count%n] = line
			count++
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
	}
	first := 0
	if count > n {
		first = count - n
	}
	for i := first; i < count; i++ {
		if _, err := w.Write(ring[i%n]); err != nil {
			return err
		}
	}
	return nil
}

// copyFileTail copies the tail of the file at path; a missing file copies nothing.
func copyFileTail(w io.Writer, path string, n int) error {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	defer f.Close()
	return copyTail(w, f, n)
}
