package ml

import (
	"math/rand"
	"strconv"
)

var (
	testBrands  = []string{"Honda", "Hyundai", "Maruti Suzuki", "Tata", "Toyota"}
	testNames   = []string{"City", "Creta", "Nexon", "Swift", "Innova"}
	testFuels   = []string{"CNG", "Diesel", "LPG", "Petrol"}
	testGears   = []string{"Automatic", "Manual"}
	testOwners  = []string{"First Owner", "Second Owner", "Third Owner"}
	testCities  = []string{"Bengaluru", "Delhi", "Mumbai", "Pune"}
	testSeats   = []int{4, 5, 6, 7}
	testSellers = []string{"Dealer", "Individual"}
)

// syntheticRows draws n listings whose label follows
// 2*engine + 0.5*max_power - 0.1*km_driven/1000 plus gaussian noise.
func syntheticRows(n int, seed int64) ([]FeatureRow, []float64) {
	rnd := rand.New(rand.NewSource(seed))
	rows := make([]FeatureRow, n)
	labels := make([]float64, n)
	for i := 0; i < n; i++ {
		km := float64(rnd.Intn(200000))
		engine := float64(800 + rnd.Intn(2200))
		power := 40 + rnd.Float64()*200
		rows[i] = FeatureRow{
			KmDriven:       Float(km),
			Engine:         Float(engine),
			MaxPower:       Float(power),
			TorqueNm:       Float(80 + rnd.Float64()*300),
			ConditionScore: Float(1 + rnd.Float64()*9),
			Age:            Float(float64(rnd.Intn(15))),
			Brand:          testBrands[rnd.Intn(len(testBrands))],
			CarName:        testNames[rnd.Intn(len(testNames))],
			Fuel:           testFuels[rnd.Intn(len(testFuels))],
			Transmission:   testGears[rnd.Intn(len(testGears))],
			Owner:          testOwners[rnd.Intn(len(testOwners))],
			City:           testCities[rnd.Intn(len(testCities))],
			Seats:          strconv.Itoa(testSeats[rnd.Intn(len(testSeats))]),
			SellerType:     testSellers[rnd.Intn(len(testSellers))],
		}
		labels[i] = 2*engine + 0.5*power - 0.1*km/1000 + rnd.NormFloat64()*5
	}
	return rows, labels
}

func sampleRow() FeatureRow {
	return FeatureRow{
		KmDriven:       Float(30000),
		Engine:         Float(1200),
		MaxPower:       Float(80),
		TorqueNm:       Float(150),
		ConditionScore: Float(7),
		Age:            Float(8),
		Brand:          "Maruti Suzuki",
		CarName:        "Swift",
		Fuel:           "Petrol",
		Transmission:   "Manual",
		Owner:          "First Owner",
		City:           "Mumbai",
		Seats:          "5",
		SellerType:     "Dealer",
	}
}
