package main

import (
	"flag"
	"fmt"
	"net"
	"os"
	"strconv"

	"github.com/mitchellh/colorstring"
	log "github.com/sirupsen/logrus"

	"GoTorrent/torrent"
)

func main() {
	log.SetLevel(log.WarnLevel)
	if os.Getenv("BT_VERBOSE") != "" {
		log.SetLevel(log.DebugLevel)
	}

	if len(os.Args) < 2 {
		fmt.Fprintf(os.Stderr, "Usage: ./GoTorrent <command> [args]\n")
		os.Exit(1)
	}

	if err := run(os.Args[1], os.Args[2:]); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}

func run(command string, args []string) error {
	switch command {
	case "decode":
		return cmdDecode(args)
	case "info":
		return cmdInfo(args)
	case "peers":
		return cmdPeers(args)
	case "handshake":
		return cmdHandshake(args)
	case "download_piece":
		return cmdDownloadPiece(args)
	case "download":
		return cmdDownload(args)
	case "magnet_parse":
		return cmdMagnetParse(args)
	case "magnet_handshake":
		return cmdMagnetHandshake(args)
	default:
		return fmt.Errorf("unknown command %q", command)
	}
}

func cmdDecode(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: decode <bencoded value>")
	}

	value, err := torrent.DecodeBencode([]byte(args[0]))
	if err != nil {
		return err
	}

	rendered, err := torrent.RenderJSON(value)
	if err != nil {
		return err
	}

	fmt.Println(rendered)

	return nil
}

func cmdInfo(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: info <file.torrent>")
	}

	t, err := torrent.SetTorrentFile(args[0])
	if err != nil {
		return err
	}

	fmt.Println("Tracker URL:", t.Announce)
	fmt.Println("Length:", t.Info.Length)
	fmt.Printf("Info Hash: %x\n", t.Info.InfoHash)
	fmt.Println("Piece Length:", t.Info.PieceLength)
	fmt.Println("Piece Hashes:")
	for _, hash := range t.Info.PieceHashes {
		fmt.Printf("%x\n", hash)
	}

	return nil
}

func cmdPeers(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: peers <file.torrent>")
	}

	t, err := torrent.SetTorrentFile(args[0])
	if err != nil {
		return err
	}

	peers, err := torrent.FindConnections(t)
	if err != nil {
		return err
	}

	for _, peer := range peers {
		fmt.Println(peer.Addr())
	}

	return nil
}

func cmdHandshake(args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("usage: handshake <file.torrent> <ip:port>")
	}

	t, err := torrent.SetTorrentFile(args[0])
	if err != nil {
		return err
	}

	peer, err := parseEndpoint(args[1])
	if err != nil {
		return err
	}

	session, err := torrent.DialPeer(peer, t.Info.InfoHash, false)
	if err != nil {
		return err
	}
	defer session.Close()

	fmt.Printf("Peer ID: %x\n", session.RemoteID)

	return nil
}

func cmdDownloadPiece(args []string) error {
	fs := flag.NewFlagSet("download_piece", flag.ContinueOnError)
	out := fs.String("o", "", "path of the output file")

	if err := fs.Parse(args); err != nil {
		return err
	}

	if *out == "" || fs.NArg() != 2 {
		return fmt.Errorf("usage: download_piece -o <out> <file.torrent> <piece index>")
	}

	index, err := strconv.Atoi(fs.Arg(1))
	if err != nil {
		return fmt.Errorf("invalid piece index %q", fs.Arg(1))
	}

	t, err := torrent.SetTorrentFile(fs.Arg(0))
	if err != nil {
		return err
	}

	if err := t.DownloadSinglePiece(index, *out); err != nil {
		return err
	}

	fmt.Println(colorstring.Color(fmt.Sprintf("[green]Piece %d downloaded to %s.", index, *out)))

	return nil
}

func cmdDownload(args []string) error {
	fs := flag.NewFlagSet("download", flag.ContinueOnError)
	out := fs.String("o", "", "path of the output file")

	if err := fs.Parse(args); err != nil {
		return err
	}

	if *out == "" || fs.NArg() != 1 {
		return fmt.Errorf("usage: download -o <out> <file.torrent>")
	}

	t, err := torrent.SetTorrentFile(fs.Arg(0))
	if err != nil {
		return err
	}

	if err := t.Download(*out); err != nil {
		return err
	}

	fmt.Println(colorstring.Color(fmt.Sprintf("[green]Downloaded %s to %s.", fs.Arg(0), *out)))

	return nil
}

func cmdMagnetParse(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: magnet_parse <magnet:...>")
	}

	magnet, err := torrent.ParseMagnet(args[0])
	if err != nil {
		return err
	}

	fmt.Println("Tracker URL:", magnet.Announce)
	fmt.Printf("Info Hash: %x\n", magnet.InfoHash)

	return nil
}

func cmdMagnetHandshake(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: magnet_handshake <magnet:...>")
	}

	magnet, err := torrent.ParseMagnet(args[0])
	if err != nil {
		return err
	}

	session, metadataID, err := magnet.Handshake()
	if err != nil {
		return err
	}
	defer session.Close()

	fmt.Printf("Peer ID: %x\n", session.RemoteID)
	if metadataID > 0 {
		fmt.Println("Peer Metadata Extension ID:", metadataID)
	}

	return nil
}

func parseEndpoint(endpoint string) (torrent.Peer, error) {
	host, portStr, err := net.SplitHostPort(endpoint)
	if err != nil {
		return torrent.Peer{}, fmt.Errorf("invalid peer endpoint %q", endpoint)
	}

	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return torrent.Peer{}, fmt.Errorf("invalid peer port %q", portStr)
	}

	return torrent.Peer{IP: host, Port: uint16(port)}, nil
}
