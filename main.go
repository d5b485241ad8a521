package main

import (
	"context"

	"github.com/striderapp/housepoints/config"
	"github.com/striderapp/housepoints/models"
	"github.com/striderapp/housepoints/routes"
	"github.com/striderapp/housepoints/services"
	"github.com/striderapp/housepoints/utils"
)

func main() {
	cfg := config.Load()

	// Initialize logger early
	if err := utils.InitLogger(cfg); err != nil {
		panic(err)
	}

	db := config.InitDatabase(&models.User{}, &models.HouseScore{}, &models.StepSample{}, &models.AwardLog{})

	// Make sure every house has a ledger row before the first award lands.
	if err := services.NewHouseLedger(db).Seed(context.Background()); err != nil {
		utils.Sugar.Fatalf("house ledger seed failed: %v", err)
	}

	r := routes.SetupRouter(db)

	utils.Sugar.Infof("Starting server on port %s (graceful)", cfg.AppPort)
	if err := utils.GraceServer(":"+cfg.AppPort, r); err != nil {
		utils.Sugar.Fatalf("server stopped with error: %v", err)
	}
}
