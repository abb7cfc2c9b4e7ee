package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/alavers/gotftpd/tftpd"
)

var (
	flgBindAddr string
	flgPort     int
	flgRootDir  string
	flgNoUpload bool
	flgDebug    bool
)

func init() {
	flag.StringVar(&flgBindAddr, "addr", "", "Address to bind (empty for all interfaces)")
	flag.IntVar(&flgPort, "port", 69, "UDP port to listen on")
	flag.StringVar(&flgRootDir, "root", ".", "Files directory served for read requests")
	flag.BoolVar(&flgNoUpload, "nowrite", true, "Reject write requests (upload is unimplemented; always true)")
	flag.BoolVar(&flgDebug, "debug", false, "Enable debug logging")
}

func main() {
	flag.Parse()

	logger := logrus.New()
	if flgDebug {
		logger.SetLevel(logrus.DebugLevel)
	}

	stat, err := os.Stat(flgRootDir)
	if err != nil {
		logger.WithError(err).Fatal("cannot stat files directory")
	}
	if !stat.IsDir() {
		logger.Fatal("files directory is not a directory")
	}

	configs := []tftpd.EndpointConfig{
		{
			BindAddr:       flgBindAddr,
			Port:           flgPort,
			FilesDir:       flgRootDir,
			UploadDisabled: flgNoUpload,
		},
	}

	sink := &tftpd.LoggingSink{Logger: tftpd.NewLogger(logger, "tftpd")}

	dispatcher, err := tftpd.NewDispatcher(configs, tftpd.NewOSEndpointFactory(), tftpd.DefaultDefaults(), sink, tftpd.NewLogger(logger, "dispatcher"))
	if err != nil {
		logger.WithError(err).Fatal("failed to start dispatcher")
	}

	logger.Info(fmt.Sprintf("serving %s on port %d", flgRootDir, flgPort))
	dispatcher.ListenAndServe()
}
