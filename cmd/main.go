package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli"

	"tradeengine/cmd/research"
	"tradeengine/cmd/universe"
	"tradeengine/src/database"
)

var Version string

func main() {
	app := cli.NewApp()
	app.Name = "Tradeengine CMD"
	app.Usage = "The tradeengine command line interface"

	app.Commands = []cli.Command{
		researchCMD,
		universeCMD,
	}

	if err := app.Run(os.Args); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var (
	researchCMD = cli.Command{
		Name:        "research",
		Usage:       "run the research scheduler",
		Action:      researchAction,
		ArgsUsage:   "",
		Flags:       []cli.Flag{},
		Description: `Run the research scheduler CMD`,
	}
	universeCMD = cli.Command{
		Name:        "universe",
		Usage:       "refresh the ranked symbol universe",
		Action:      universeAction,
		ArgsUsage:   "",
		Flags:       []cli.Flag{},
		Description: `Refresh the symbol universe CMD`,
	}
)

func researchAction(_ *cli.Context) error {
	logrus.Info("Starting research scheduler CMD")

	if err := database.InitMainDB(); err != nil {
		logrus.WithError(err).Fatal("Failed to connect to database")
	}

	r := &research.Research{
		Log: logrus.WithField("cmd", "research"),
	}
	if err := r.Start(); err != nil {
		logrus.WithError(err).Error("Starting cmd")
		return err
	}
	return nil
}

func universeAction(_ *cli.Context) error {
	logrus.Info("Starting universe CMD")

	if err := database.InitMainDB(); err != nil {
		logrus.WithError(err).Fatal("Failed to connect to database")
	}

	u := &universe.Universe{
		Log: logrus.WithField("cmd", "universe"),
		DB:  database.MainDB,
	}
	if err := u.Start(); err != nil {
		logrus.WithError(err).Error("Starting universe cmd")
		return err
	}
	return nil
}
